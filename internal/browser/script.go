package browser

import (
	"encoding/json"
	"fmt"
)

// submitTemplate is evaluated on the destination page after navigation. It
// POSTs the payload back to the page's own URL, the same round-trip a
// browser-origin integration performs, and resolves to a plain object so the
// result survives the CDP value round-trip. A fetch that never reaches the
// destination resolves with status 0.
const submitTemplate = `(() => {
	const body = %s;
	return fetch(window.location.href, {
		method: "POST",
		headers: { "Content-Type": "application/json" },
		body: body,
	}).then((resp) => resp.text().then((text) => ({
		status: resp.status,
		statusText: resp.statusText,
		body: text,
	}))).catch((err) => ({
		status: 0,
		statusText: "network error",
		body: String(err),
	}));
})()`

// fetchResult mirrors the object the in-page script resolves with.
type fetchResult struct {
	Status     int    `json:"status"`
	StatusText string `json:"statusText"`
	Body       string `json:"body"`
}

// submitScript renders the in-page submission script with the payload
// embedded as a JS string literal. JSON string escaping is JS-safe here, so
// marshaling the raw payload text produces the literal directly.
func submitScript(payload []byte) (string, error) {
	lit, err := json.Marshal(string(payload))
	if err != nil {
		return "", fmt.Errorf("encode payload literal: %w", err)
	}
	return fmt.Sprintf(submitTemplate, lit), nil
}
