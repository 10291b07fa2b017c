package grpcsvc

import (
	"errors"
	"net/http"
	"strconv"

	"google.golang.org/grpc/codes"

	"github.com/ratengine/rengine/rerr"
)

// codeFor extracts the gRPC status code an error should be reported under,
// defaulting to Internal for errors the handler didn't tag itself (spec §4.H
// error taxonomy).
func codeFor(err error) codes.Code {
	var re *rerr.Error
	if errors.As(err, &re) {
		return re.Code
	}
	return codes.Internal
}

// writeStatus answers a call that produced no response frame (wrong verb,
// unknown method, undecodable request, handler error) with trailers only.
func writeStatus(w http.ResponseWriter, code codes.Code, message string) {
	w.Header().Set("Content-Type", "application/grpc")
	w.WriteHeader(http.StatusOK)
	setTrailer(w, code, message)
}

// writeTrailer closes out a call after zero or more response frames have
// already been written, setting grpc-status/grpc-message from err (nil means
// OK).
func writeTrailer(w http.ResponseWriter, err error) {
	if err == nil {
		setTrailer(w, codes.OK, "")
		return
	}
	setTrailer(w, codeFor(err), err.Error())
}

func setTrailer(w http.ResponseWriter, code codes.Code, message string) {
	w.Header().Set(http.TrailerPrefix+"Grpc-Status", strconv.Itoa(int(code)))
	if message != "" {
		w.Header().Set(http.TrailerPrefix+"Grpc-Message", message)
	}
}
