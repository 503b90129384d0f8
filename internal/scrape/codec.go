package scrape

// DecodeStringList and its siblings expose the JSON-array-as-text codec that
// Payload merging uses for Media's text columns, so the Asset Cache can
// read/rewrite the same columns without duplicating the encoding.
func DecodeStringList(raw string) []string { return decodeStrings(raw) }

// DecodeVideoVariantList decodes a Media.PreviewVideoURLs column.
func DecodeVideoVariantList(raw string) []VideoVariant { return decodeVideoVariants(raw) }

// EncodeStringList encodes a string slice the same way Media's text columns
// store one (e.g. BackdropURL, PreviewURLs).
func EncodeStringList(v []string) string { return encodeJSON(v) }

// EncodeVideoVariantList encodes a PreviewVideoURLs column.
func EncodeVideoVariantList(v []VideoVariant) string { return encodeJSON(v) }
