package dispatch

import (
	"errors"
	"log"

	"github.com/relaychat/coordinator/internal/store"
	"github.com/relaychat/coordinator/internal/wire"
)

// kind classifies a dispatch failure the way spec §7 groups them, so every
// operation reports errors to the client with the same shape regardless of
// which handler produced them.
type kind int

const (
	kindBadRequest kind = iota
	kindAuthFailure
	kindNotFound
	kindConflict
	kindStoreIO
	kindInternal
)

// opError carries a kind alongside the text sent to the client.
type opError struct {
	k   kind
	msg string
}

func (e *opError) Error() string { return e.msg }

func badRequest(msg string) error  { return &opError{kindBadRequest, msg} }
func authFailure(msg string) error { return &opError{kindAuthFailure, msg} }
func notFound(msg string) error    { return &opError{kindNotFound, msg} }
func conflict(msg string) error    { return &opError{kindConflict, msg} }

// wrapStoreErr classifies a failure returned by the store layer. A
// *store.IOError is logged (it represents a real persistence problem an
// operator needs to see) and reported to the client as a generic failure
// rather than leaking filesystem details.
func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ioErr *store.IOError
	if errors.As(err, &ioErr) {
		log.Printf("dispatch: %s: store io error: %v", op, err)
		return &opError{kindStoreIO, "internal storage error"}
	}
	log.Printf("dispatch: %s: %v", op, err)
	return &opError{kindInternal, "internal error"}
}

// errorFrame renders err as the {"type":"E",...} frame sent to the client.
// Any error not already classified here is treated as internal and logged.
func errorFrame(op string, err error) wire.Frame {
	var oe *opError
	if errors.As(err, &oe) {
		return wire.Error(oe.msg)
	}
	log.Printf("dispatch: %s: unclassified error: %v", op, err)
	return wire.Error("internal error")
}
