package mailbox

import "errors"

// ErrNotSupported is returned by optional Provider capabilities
// (MoveToSpam, FetchAttachmentContent) that a given provider doesn't
// implement.
var ErrNotSupported = errors.New("mailbox: capability not supported by this provider")
