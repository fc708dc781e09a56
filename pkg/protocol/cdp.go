// Package protocol holds the CDP method name constants that internal/cdp
// calls through Driver.Send rather than through github.com/mafredri/cdp's
// generated client.
package protocol

const (
	MethodDOMGetBoxModel            = "DOM.getBoxModel"
	MethodDOMScrollIntoViewIfNeeded = "DOM.scrollIntoViewIfNeeded"
)
