package cdp

// Every script is a function expression called with JSON arguments and
// evaluated by value.

const stateScript = `(sel, generating, ready) => {
  const btn = document.querySelector(sel);
  if (!btn) return {found: false};
  const nodes = [btn, ...btn.querySelectorAll('span, i')];
  const has = (c) => nodes.some(e => e.classList && e.classList.contains(c));
  if (has(generating)) return {found: true, state: 'generating'};
  if (has(ready)) return {found: true, state: 'ready'};
  return {found: true, state: 'unknown'};
}`

// containerScript finds an element whose text contains a signal text and a
// control inside it with one of the labels, then tags the control.
const containerScript = `(texts, labels, query, attr, id) => {
  for (const el of document.querySelectorAll('body *')) {
    const t = el.textContent || '';
    if (!texts.some(x => t.includes(x))) continue;
    for (const c of el.querySelectorAll(query)) {
      const label = (c.textContent || '').trim();
      if (labels.includes(label)) {
        c.setAttribute(attr, id);
        return {found: true, label};
      }
    }
  }
  return {found: false};
}`

// documentScript is the loose variant: any labelled control anywhere, as
// long as a signal text is on the page.
const documentScript = `(texts, labels, query, attr, id) => {
  const body = document.body ? (document.body.innerText || '') : '';
  if (!texts.some(x => body.includes(x))) return {found: false};
  const all = Array.from(document.querySelectorAll(query)).reverse();
  for (const c of all) {
    const label = (c.textContent || '').trim();
    if (labels.includes(label)) {
      c.setAttribute(attr, id);
      return {found: true, label};
    }
  }
  return {found: false};
}`

const existsScript = `(sel) => document.querySelector(sel) !== null`

const domClickScript = `(sel) => {
  const el = document.querySelector(sel);
  if (!el) return false;
  el.click();
  return true;
}`

// domInputScript is the event-synthesis fallback for editors that ignore
// CDP text insertion.
const domInputScript = `(sel, text, delay) => new Promise((resolve) => {
  const el = document.querySelector(sel);
  if (!el) { resolve(false); return; }
  el.dispatchEvent(new MouseEvent('click', {view: window, bubbles: true, cancelable: true}));
  el.focus();
  el.textContent = text;
  el.dispatchEvent(new InputEvent('input', {bubbles: true, cancelable: true, inputType: 'insertText', data: text}));
  setTimeout(() => {
    const enter = {key: 'Enter', code: 'Enter', keyCode: 13, which: 13, bubbles: true, cancelable: true};
    for (const type of ['keydown', 'keyup']) {
      el.dispatchEvent(new KeyboardEvent(type, enter));
    }
    resolve(true);
  }, delay);
})`

const textsScript = `(sel, limit) => Array.from(document.querySelectorAll(sel))
  .map(e => (e.textContent || '').trim())
  .filter(Boolean)
  .slice(-limit)`

const cancelScript = `(flag) => {
  const v = window[flag] === true;
  if (v) window[flag] = false;
  return v;
}`
