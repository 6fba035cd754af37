// Package codec converts between local markdown files and the remote
// storage format.
//
// The sync engine only depends on the Codec interface; the bundled
// converter handles the common structural elements (headings, paragraphs,
// bullet lists, fenced code) conservatively and passes anything it does
// not recognize through untouched. Lossy round trips are acceptable here:
// conflict detection compares hashes of what was actually written, never
// re-converted content.
package codec

// Codec converts document content between the local and remote formats.
type Codec interface {
	// ConvertToRemote translates local markdown to remote storage format.
	ConvertToRemote(content string) (string, error)

	// ConvertToLocal translates remote storage format to local markdown.
	ConvertToLocal(content string) (string, error)
}
