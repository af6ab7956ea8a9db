package app

import "errors"

// Sentinel errors mapped to HTTP statuses by the server layer.
var (
	ErrUsernameTaken       = errors.New("username already taken")
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrBookNotFound        = errors.New("book not found")
	ErrFileNotFound        = errors.New("file not found")
	ErrMissingTitle        = errors.New("title is required")
	ErrMissingFile         = errors.New("file is required")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file exceeds the maximum upload size")
	ErrMaintenanceLocked   = errors.New("site is under maintenance")
)
