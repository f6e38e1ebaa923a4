package rodengine

// styleProps are the computed style properties copied into every snapshot.
var styleProps = []string{
	"display", "visibility", "opacity", "position", "overflow", "z-index",
	"color", "background-color", "border-color", "border-width", "border-style",
	"outline-style", "outline-width", "outline-color", "outline-offset", "box-shadow",
	"font-size", "font-weight", "line-height", "text-decoration-line",
	"cursor", "transform", "pointer-events",
}

// snapshotJS walks the live document and serializes it. Element ids are kept
// in a per-document registry so refs stay valid until the page navigates;
// fresh reports that the registry had to be created.
const snapshotJS = `(props) => {
	let fresh = false;
	if (!window.__webcheck) {
		window.__webcheck = { next: 1, ids: new WeakMap(), byId: new Map() };
		fresh = true;
	}
	const reg = window.__webcheck;
	const byId = new Map();
	const idOf = (el) => {
		let id = reg.ids.get(el);
		if (!id) { id = reg.next++; reg.ids.set(el, id); }
		byId.set(id, el);
		return id;
	};
	const visible = (el, cs) => {
		if (cs.display === 'none' || cs.visibility === 'hidden' || cs.visibility === 'collapse') return false;
		if (parseFloat(cs.opacity) === 0) return false;
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	};
	const walk = (node) => {
		if (node.nodeType === Node.TEXT_NODE) return { id: 0, text: node.data };
		if (node.nodeType !== Node.ELEMENT_NODE) return null;
		const cs = getComputedStyle(node);
		const r = node.getBoundingClientRect();
		const out = {
			id: idOf(node),
			tag: node.localName,
			attrs: Array.from(node.attributes, (a) => [a.name, a.value]),
			visible: visible(node, cs),
			box: { x: r.x, y: r.y, width: r.width, height: r.height },
			style: {},
			children: [],
		};
		for (const p of props) out.style[p] = cs.getPropertyValue(p);
		if ('value' in node && (node.localName === 'input' || node.localName === 'textarea' || node.localName === 'select')) {
			out.value = String(node.value);
		}
		if (node.localName === 'input') out.checked = !!node.checked;
		for (const c of node.childNodes) {
			const s = walk(c);
			if (s) out.children.push(s);
		}
		return out;
	};
	const root = walk(document.documentElement);
	reg.byId = byId;
	const active = document.activeElement;
	return {
		fresh,
		doc: {
			url: location.href,
			title: document.title,
			focused: active && active !== document.body ? (reg.ids.get(active) || 0) : 0,
			root,
		},
	};
}`

// lookupJS returns the connected element registered under id, or null.
const lookupJS = `(id) => {
	const reg = window.__webcheck;
	if (!reg) return null;
	const el = reg.byId.get(id);
	return el && el.isConnected ? el : null;
}`

const checkedJS = `function () { return !!this.checked }`

// selectJS picks the option whose value or label matches and fires the
// events a user selection would.
const selectJS = `function (want) {
	const opt = Array.from(this.options || []).find((o) => o.value === want || o.label === want || o.text.trim() === want);
	if (!opt) return false;
	this.value = opt.value;
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`
