package browser

// applyFieldsScript takes a JSON array of FieldAssignment and returns a FieldLedger.
// Checkboxes take boolean-like values, selects match option value then text, radio
// groups match the value or the label text, everything else gets its value set.
// input and change events are fired on every element that was changed.
const applyFieldsScript = `(function(fields) {
	const ledger = { succeeded: [], failed: [] };
	const fire = (el) => {
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
	};
	const norm = (s) => (s || '').toString().trim().toLowerCase();
	const fail = (f, reason) => ledger.failed.push({ name: f.name, selector: f.selector, reason: reason });
	const labelOf = (el) => {
		if (el.id) {
			const byFor = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
			if (byFor) return byFor.textContent;
		}
		const wrapping = el.closest('label');
		if (wrapping) return wrapping.textContent;
		const sibling = el.parentElement ? el.parentElement.querySelector('label') : null;
		return sibling ? sibling.textContent : '';
	};

	for (const f of fields) {
		try {
			if (f.kind === 'labeled-choice') {
				const want = norm(f.value);
				const radios = Array.from(document.querySelectorAll(f.selector));
				if (radios.length === 0) { fail(f, 'element not found'); continue; }
				const hit = radios.find(r => norm(r.value) === want) || radios.find(r => norm(labelOf(r)) === want);
				if (!hit) { fail(f, 'no option labelled ' + f.value); continue; }
				hit.checked = true;
				fire(hit);
				ledger.succeeded.push(f.name);
				continue;
			}

			const el = document.querySelector(f.selector);
			if (!el) { fail(f, 'element not found'); continue; }

			if (f.kind === 'boolean' || el.type === 'checkbox') {
				el.checked = ['true', '1', 'yes', 'on', 'y'].includes(norm(f.value));
			} else if (el.tagName === 'SELECT') {
				const want = norm(f.value);
				const options = Array.from(el.options);
				const hit = options.find(o => o.value === f.value) || options.find(o => norm(o.textContent) === want);
				if (!hit) { fail(f, 'no option matching ' + f.value); continue; }
				el.value = hit.value;
			} else {
				el.value = f.value;
			}
			fire(el);
			ledger.succeeded.push(f.name);
		} catch (e) {
			fail(f, String(e));
		}
	}
	return ledger;
})(%s)`

// selectOptionScript selects the option whose value matches exactly
const selectOptionScript = `(function(selector, value) {
	const el = document.querySelector(selector);
	if (!el) return false;
	const hit = Array.from(el.options || []).find(o => o.value === value);
	if (!hit) return false;
	el.value = hit.value;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
})(%s, %s)`

const setValueScript = `(function(selector, value) {
	const el = document.querySelector(selector);
	if (!el) return false;
	el.value = value;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
})(%s, %s)`
