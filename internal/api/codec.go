package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/djbf-gateway/internal/audit"
	"github.com/kenneth/djbf-gateway/internal/djbf"
)

// HeaderInfo is the JSON description returned by /v1/inspect.
type HeaderInfo struct {
	Version       string `json:"version"`
	Flags         string `json:"flags"`
	RawFlags      string `json:"raw_flags"`
	Encrypted     bool   `json:"encrypted"`
	Compressed    bool   `json:"compressed"`
	Checksum      string `json:"checksum"`
	DataSize      int32  `json:"data_size"`
	DataSizeHi    int32  `json:"data_size_hi"`
	Reserved      uint16 `json:"reserved"`
	SuffixSize    int    `json:"suffix_size"`
	RawSuffixSize uint8  `json:"raw_suffix_size"`
	BodySize      int    `json:"body_size"`
}

func formatVersion(v uint16) string {
	return fmt.Sprintf("0x%04X", v)
}

// NewHeaderInfo describes h for a file of fileSize bytes.
func NewHeaderInfo(h *djbf.Header, fileSize int) HeaderInfo {
	return HeaderInfo{
		Version:       formatVersion(h.Version),
		Flags:         h.Flags.String(),
		RawFlags:      fmt.Sprintf("0x%02X", uint8(h.RawFlags)),
		Encrypted:     h.Flags.Encrypted(),
		Compressed:    h.Flags.Compressed(),
		Checksum:      fmt.Sprintf("%08X", h.Checksum),
		DataSize:      h.DataSizeLo,
		DataSizeHi:    h.DataSizeHi,
		Reserved:      h.Reserved,
		SuffixSize:    len(h.Suffix),
		RawSuffixSize: h.RawSuffixSize,
		BodySize:      fileSize - djbf.HeaderSize + len(h.Suffix),
	}
}

// handleDecode decodes a DJBF file posted as the request body.
func (h *Handler) handleDecode(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r, h.config.Server.MaxBodyBytes)
	if err != nil {
		h.writeBodyError(w, r, err)
		return
	}

	profile := profileFromRequest(r)
	if profile == "" {
		profile = h.config.Server.Defaults.Profile
	}

	out, hdr, err := h.decode(r, data, profile, audit.CodecRecord{
		Source:    "http",
		RequestID: getRequestID(r),
	})
	if err != nil {
		h.writeError(w, r, CodecError(err), err)
		return
	}

	for k, v := range envelopeHeaders(hdr) {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		h.logger.WithError(err).Debug("Failed to write decoded payload")
	}
}

// handleEncode wraps the request body in a DJBF envelope. Options not given
// in the query fall back to the server defaults.
func (h *Handler) handleEncode(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r, h.config.Server.MaxBodyBytes)
	if err != nil {
		h.writeBodyError(w, r, err)
		return
	}

	opts, err := encodeConfig(r, h.config.Server.Defaults).Options()
	if err != nil {
		h.writeError(w, r, CodecError(err), err)
		return
	}

	out, err := h.encode(r, data, opts, audit.CodecRecord{
		Source:    "http",
		RequestID: getRequestID(r),
	})
	if err != nil {
		h.writeError(w, r, CodecError(err), err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.Header().Set("X-Djbf-Version", formatVersion(opts.Version))
	w.Header().Set("X-Djbf-Flags", djbf.NormalizeFlags(opts.Version, opts.Flags).String())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		h.logger.WithError(err).Debug("Failed to write encoded file")
	}
}

// handleInspect describes the header of the posted file without decoding
// the body.
func (h *Handler) handleInspect(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r, h.config.Server.MaxBodyBytes)
	if err != nil {
		h.writeBodyError(w, r, err)
		return
	}

	hdr, err := h.codec.Inspect(data)
	if err != nil {
		h.writeError(w, r, CodecError(err), err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"version":    formatVersion(hdr.Version),
		"flags":      hdr.Flags.String(),
		"request_id": getRequestID(r),
	}).Debug("Inspected DJBF header")

	writeJSON(w, http.StatusOK, NewHeaderInfo(hdr, len(data)))
}

func (h *Handler) writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		h.writeError(w, r, apiErr, nil)
		return
	}
	h.writeError(w, r, ErrInvalidRequest, err)
}
