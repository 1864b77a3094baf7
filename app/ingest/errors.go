package ingest

import "fmt"

// Code identifies why an ingest was rejected.
type Code string

const (
	CodeFileTooLarge       Code = "file_too_large"
	CodeInvalidFormat      Code = "invalid_format"
	CodeMultipleSubfolders Code = "multiple_subfolders"
	CodeNonImageContent    Code = "non_image_content"
	CodeInProgress         Code = "ingest_in_progress"
	CodeExpiredUpload      Code = "expired_upload"
)

// Error is a validation or concurrency failure reported to the uploader.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func FileTooLarge(limit int64) *Error {
	return &Error{Code: CodeFileTooLarge, Message: fmt.Sprintf("file too large (limit is %d bytes)", limit)}
}

func InvalidFormat() *Error {
	return &Error{Code: CodeInvalidFormat, Message: "file is not a valid zip archive"}
}

func MultipleSubfolders() *Error {
	return &Error{Code: CodeMultipleSubfolders, Message: "archive must not contain more than one subfolder"}
}

func NonImageContent(name string) *Error {
	return &Error{Code: CodeNonImageContent, Message: fmt.Sprintf("archive entry %q is not a valid image", name)}
}

func IngestInProgress(chapterID int64) *Error {
	return &Error{Code: CodeInProgress, Message: fmt.Sprintf("chapter %d is already being processed", chapterID)}
}

func ExpiredUpload() *Error {
	return &Error{Code: CodeExpiredUpload, Message: "expired upload"}
}
