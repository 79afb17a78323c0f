package nn

import "errors"

// Errors returned by state dict loading and the classifier heads.
var (
	ErrMissingKey    = errors.New("missing key in state dict")
	ErrUnexpectedKey = errors.New("unexpected key in state dict")
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrDTypeMismatch = errors.New("dtype mismatch")
	ErrNoBackup      = errors.New("no backup to recall")
	ErrProxyShape    = errors.New("width is not divisible by the number of proxies")
	ErrUnknownModel  = errors.New("unknown model type")
	ErrUnreduced     = errors.New("proxy scores are not reduced")
	ErrMissingMeta   = errors.New("missing metadata")
	ErrNotCheckpoint = errors.New("file is not a checkpoint")
	ErrUnknownFormat = errors.New("unknown file format")
)
