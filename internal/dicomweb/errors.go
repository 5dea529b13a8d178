package dicomweb

import "errors"

// Error taxonomy shared by the STOW/QIDO/WADO pipelines. Handlers map these
// to HTTP status classes; everything else is treated as a server fault.
var (
	// ErrInvalidIdentifier indicates a malformed UID or tag supplied by the caller.
	ErrInvalidIdentifier = errors.New("invalid DICOM identifier")

	// ErrInvalidQuery indicates a malformed search control parameter, such as
	// a bad limit or an unsupported sort attribute.
	ErrInvalidQuery = errors.New("invalid query parameter")

	// ErrMalformedDataSet indicates a payload that could not be decoded as DICOM.
	ErrMalformedDataSet = errors.New("malformed DICOM data set")

	// ErrStudyMismatch indicates a data set whose Study Instance UID differs
	// from the study targeted by the request URL.
	ErrStudyMismatch = errors.New("study instance UID mismatch")

	// ErrDuplicateInstance indicates a SOP Instance UID that is already stored.
	ErrDuplicateInstance = errors.New("SOP instance already exists")

	// ErrNotFound indicates that no stored resource matches the request.
	ErrNotFound = errors.New("resource not found")

	// ErrUnsupportedTransferSyntax indicates pixel data in an encoding the
	// codec capability cannot decode.
	ErrUnsupportedTransferSyntax = errors.New("unsupported transfer syntax")

	// ErrTranscodeFailure indicates that an acceptable rendered representation
	// could not be produced.
	ErrTranscodeFailure = errors.New("failed to transcode pixel data")

	// ErrStorageFailure indicates a database or file area I/O error.
	ErrStorageFailure = errors.New("storage failure")
)
