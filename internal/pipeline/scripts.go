package pipeline

// Function expressions evaluated in the page through Page.Call. Every
// function returns a value so the result can always be decoded.

// PlaceholderImageURL serves the placeholder images of image fixtures,
// suffixed with /{width}/{height}.
const PlaceholderImageURL = "https://picsum.photos/id/0"

const animationCSS = `*, *::after, *::before {
  transition-delay: 0s !important;
  transition-duration: 0s !important;
  animation-delay: -0.0001s !important;
  animation-duration: 0s !important;
  animation-play-state: paused !important;
  caret-color: transparent !important;
  color-adjust: exact !important;
}`

const jsDocumentHeight = `() => document.documentElement.scrollHeight`

const jsBodyScrollHeight = `() => document.body ? document.body.scrollHeight : 0`

const jsScrollBy = `(step) => { window.scrollBy(0, step); return true; }`

const jsScrollTop = `() => { try { window.scrollTo(0, 0); } catch (e) {} return true; }`

const jsFontsReady = `async () => {
  if (document.fonts && document.fonts.ready) { await document.fonts.ready; }
  return true;
}`

const jsTouchStart = `() => {
  try {
    window.dispatchEvent(new Event('touchstart'));
    window.document.dispatchEvent(new Event('touchstart'));
  } catch (e) {}
  return true;
}`

const jsAddStyle = `(css) => {
  const style = document.createElement('style');
  style.textContent = css;
  (document.head || document.documentElement).appendChild(style);
  return true;
}`

// jsFreezeAnimations injects the animation reset and redraws animated GIFs
// onto a canvas. It returns the number of frozen images.
const jsFreezeAnimations = `(css) => {
  const style = document.createElement('style');
  style.textContent = css;
  (document.head || document.documentElement).appendChild(style);

  let frozen = 0;
  Array.from(document.images)
    .filter((image) => /^(?!data:).*\.gif/i.test(image.src))
    .forEach((image) => {
      const c = document.createElement('canvas');
      const w = c.width = image.width;
      const h = c.height = image.height;
      try {
        c.getContext('2d').drawImage(image, 0, 0, w, h);
        image.src = c.toDataURL('image/gif');
      } catch (e) {
        if (image.parentNode) { image.parentNode.replaceChild(c, image); }
      }
      frozen++;
    });
  return frozen;
}`

// jsCut removes every element matching the selectors and returns how many
// were removed.
const jsCut = `(selectors) => {
  try { window.scrollTo(0, 0); } catch (e) {}
  let removed = 0;
  selectors.forEach((selector) => {
    selector = selector.trim();
    if (!selector.length) { return; }
    let nodes = [];
    try { nodes = document.querySelectorAll(selector); } catch (e) { return; }
    nodes.forEach((el) => { el.remove(); removed++; });
  });
  return removed;
}`

// jsPosition returns the document-relative box of an element, correcting
// for the page scroll offsets of body and the document element.
const jsPosition = `(el) => {
  if (!el) { return null; }
  let x = 0;
  let y = 0;
  const rect = el.getBoundingClientRect();
  while (el) {
    if (el.tagName === 'BODY') {
      const xScroll = el.scrollLeft || document.documentElement.scrollLeft;
      const yScroll = el.scrollTop || document.documentElement.scrollTop;
      x += el.offsetLeft - xScroll + el.clientLeft;
      y += el.offsetTop - yScroll + el.clientTop;
    } else {
      x += el.offsetLeft - el.scrollLeft + el.clientLeft;
      y += el.offsetTop - el.scrollTop + el.clientTop;
    }
    el = el.offsetParent;
  }
  return { left: x, top: y, width: rect.width, height: rect.height };
}`

// jsHide paints an opaque box over every visible element matching the
// selectors and returns the number of masked elements.
const jsHide = `(selectors) => {
  const position = ` + jsPosition + `;
  const visible = (el) => {
    const rect = el.getBoundingClientRect();
    if (rect.width === 0 || rect.height === 0) { return false; }
    const style = window.getComputedStyle(el);
    return style.display !== 'none' && style.visibility !== 'hidden' && parseFloat(style.opacity) !== 0;
  };

  window.scrollTo(0, 0);

  let masked = 0;
  selectors.forEach((selector) => {
    selector = selector.trim();
    if (!selector.length) { return; }
    let nodes = [];
    try { nodes = document.querySelectorAll(selector); } catch (e) { return; }
    nodes.forEach((el) => {
      if (!visible(el)) { return; }
      const p = position(el);
      if (!p) { return; }
      const div = document.createElement('div');
      div.setAttribute('data-screenshot-mask', '');
      div.style.display = 'block';
      div.style.position = 'absolute';
      div.style.left = p.left + 'px';
      div.style.top = p.top + 'px';
      div.style.width = p.width + 'px';
      div.style.height = p.height + 'px';
      div.style.backgroundColor = 'green';
      div.style.zIndex = '9999';
      document.body.appendChild(div);
      masked++;
    });
  });
  return masked;
}`

// jsCropRect measures the box of the first element matching the selector.
const jsCropRect = `(selector) => {
  const position = ` + jsPosition + `;
  window.scrollTo(0, 0);
  let el = null;
  try { el = document.querySelector(selector); } catch (e) {}
  const p = position(el);
  if (!p) { return { found: false }; }
  return { found: true, left: p.left, top: p.top, width: p.width, height: p.height };
}`

// jsFixtures replaces content of matched elements and waits, with a per
// element timeout, for replacement images to load.
const jsFixtures = `async (fixtures, placeholder) => {
  const limit = (promise) => Promise.race([promise, new Promise((resolve) => setTimeout(resolve, 5000))]);

  const image = (el) => new Promise((resolve) => {
    try {
      const w = el.width || null;
      const h = el.height || null;
      if (!el.src || !w || !h) { return resolve(); }
      el.addEventListener('load', () => resolve());
      el.addEventListener('error', () => resolve());
      el.src = placeholder + '/' + w + '/' + h;
      if (el.hasAttribute('data-src')) { el.setAttribute('data-src', el.src); }
      if (el.hasAttribute('srcset')) { el.setAttribute('srcset', el.src + ' 1x'); }
    } catch (e) {
      resolve();
    }
  });

  const background = (el) => new Promise((resolve) => {
    try {
      const src = window.getComputedStyle(el).backgroundImage.slice(4, -1).replace(/"/g, '');
      if (!src) { return resolve(); }
      const probe = new Image();
      probe.onerror = () => resolve();
      probe.onload = () => {
        if (!probe.width || !probe.height) { return resolve(); }
        const url = placeholder + '/' + Math.round(probe.width) + '/' + Math.round(probe.height);
        const next = new Image();
        next.onerror = () => resolve();
        next.onload = () => { el.style.backgroundImage = 'url(' + url + ')'; resolve(); };
        next.src = url;
      };
      probe.src = src;
    } catch (e) {
      resolve();
    }
  });

  const pending = [];
  fixtures.forEach((fixture) => {
    const selector = (fixture.selector || '').trim();
    const type = (fixture.type || '').trim();
    if (!selector.length) { return; }
    let nodes = [];
    try { nodes = document.querySelectorAll(selector); } catch (e) { return; }
    nodes.forEach((el) => {
      if (type === 'image') {
        pending.push(limit(image(el)));
      } else if (type === 'background image') {
        pending.push(limit(background(el)));
      } else {
        try { el.innerHTML = fixture.content || ''; } catch (e) {}
      }
    });
  });

  await Promise.all(pending);
  return pending.length;
}`

// jsStabilizeSnapshot walks the DOM below body iteratively and reports,
// per element, its current and first measured height. First heights are
// cached in the page so later snapshots compare against the same values.
const jsStabilizeSnapshot = `(maxNodes) => {
  const state = window.__screenshotStabilize || (window.__screenshotStabilize = {
    next: 1, ids: new WeakMap(), els: new Map(), first: new Map(),
  });
  const idOf = (el) => {
    let id = state.ids.get(el);
    if (!id) {
      id = state.next++;
      state.ids.set(el, id);
      state.els.set(id, el);
    }
    return id;
  };

  const nodes = [];
  const stack = [];
  if (document.body) {
    for (let i = document.body.children.length - 1; i >= 0; i--) { stack.push([document.body.children[i], 0]); }
  }

  while (stack.length && nodes.length < maxNodes) {
    const [el, parent] = stack.pop();
    const id = idOf(el);
    if (!state.first.has(id)) { state.first.set(id, el.offsetHeight); }
    const first = state.first.get(id);
    const style = window.getComputedStyle(el);
    const h = first + 'px';

    nodes.push({
      id: id,
      parent: parent,
      height: el.offsetHeight,
      first: first,
      scroll: el.scrollHeight,
      visible: el.offsetWidth > 0 && el.offsetHeight > 0 && style.display !== 'none' && style.visibility !== 'hidden',
      frozen: el.style.height === h && el.style.minHeight === h && el.style.maxHeight === h,
    });

    for (let i = el.children.length - 1; i >= 0; i--) { stack.push([el.children[i], id]); }
  }

  return { viewport: window.innerHeight, nodes: nodes };
}`

// jsStabilizeApply freezes the planned elements. A freeze that makes the
// content overflow is rolled back. It returns the number of frozen elements
// and the ids of the rolled back ones.
const jsStabilizeApply = `(plan) => {
  const state = window.__screenshotStabilize;
  const res = { applied: 0, rejected: [] };
  if (!state) { return res; }

  plan.forEach((item) => {
    const el = state.els.get(item.id);
    if (!el || !document.body.contains(el)) { return; }

    const prev = [el.style.height, el.style.minHeight, el.style.maxHeight];
    const h = item.height + 'px';
    el.style.height = h;
    el.style.minHeight = h;
    el.style.maxHeight = h;

    if (el.scrollHeight > el.offsetHeight) {
      el.style.height = prev[0];
      el.style.minHeight = prev[1];
      el.style.maxHeight = prev[2];
      res.rejected.push(item.id);
      return;
    }
    res.applied++;
  });
  return res;
}`

// MapsSelector matches embedded Google Maps, masked during stabilization
// because their tiles never render the same twice.
const MapsSelector = `iframe[src*="google.com/maps"]`
