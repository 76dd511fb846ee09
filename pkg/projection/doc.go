// Package projection maps the portable attribute namespace onto
// backend-specific storage (custom fields, tags, free-form context) and
// back. Rules are declared once per run; the forward direction feeds
// diffing and apply payloads, the inverse direction feeds extraction.
package projection
