// internal/intake/intake.go

// Package intake validates user-selected images and encodes them into the
// data-URI form the vision providers consume.
package intake

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	apperrors "github.com/Corphon/FlagLens/internal/errors"
)

// MaxImageBytes is the default size ceiling (20 MiB).
const MaxImageBytes int64 = 20 << 20

// AcceptedTypes lists the MIME types the tool analyses.
var AcceptedTypes = []string{"image/jpeg", "image/png", "image/webp"}

// Rejection reasons, also used as metric suffixes.
const (
	ReasonEmpty = "empty"
	ReasonSize  = "size"
	ReasonType  = "type"
	ReasonRead  = "read"
)

// EncodedImage is a validated image ready for transport in a JSON body.
type EncodedImage struct {
	Filename string
	MIMEType string
	Data     []byte
	SHA256   string
}

// Size returns the raw byte length.
func (img *EncodedImage) Size() int {
	return len(img.Data)
}

// Base64 returns the bare base64 payload.
func (img *EncodedImage) Base64() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}

// DataURI returns data:<mime>;base64,<payload>.
func (img *EncodedImage) DataURI() string {
	return "data:" + img.MIMEType + ";base64," + img.Base64()
}

// Validator checks uploads against a size ceiling and the accepted types.
type Validator struct {
	maxBytes int64
}

// NewValidator creates a validator; maxBytes <= 0 means MaxImageBytes.
func NewValidator(maxBytes int64) *Validator {
	if maxBytes <= 0 {
		maxBytes = MaxImageBytes
	}
	return &Validator{maxBytes: maxBytes}
}

// MaxBytes reports the configured ceiling.
func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

// Validate sniffs the content type from data and enforces size and type.
func (v *Validator) Validate(filename string, data []byte) (*EncodedImage, error) {
	if len(data) == 0 {
		return nil, rejection(ReasonEmpty, "The selected file is empty")
	}
	if int64(len(data)) > v.maxBytes {
		return nil, rejection(ReasonSize, fmt.Sprintf("Image is too large: %s exceeds the %s limit",
			HumanBytes(int64(len(data))), HumanBytes(v.maxBytes)))
	}

	mtype := mimetype.Detect(data)
	if !IsAccepted(mtype.String()) {
		return nil, rejection(ReasonType, fmt.Sprintf("Unsupported file type %s: please upload a JPEG, PNG or WEBP image", mtype.String()))
	}

	sum := sha256.Sum256(data)
	return &EncodedImage{
		Filename: filename,
		MIMEType: baseType(mtype.String()),
		Data:     data,
		SHA256:   hex.EncodeToString(sum[:]),
	}, nil
}

// ReadUpload reads at most maxBytes+1 bytes from r so oversize uploads are
// refused without buffering the whole body.
func (v *Validator) ReadUpload(r io.Reader, filename string) (*EncodedImage, error) {
	data, err := io.ReadAll(io.LimitReader(r, v.maxBytes+1))
	if err != nil {
		return nil, apperrors.NewValidationError("Failed to read the uploaded file", &Rejection{Reason: ReasonRead, Err: err})
	}
	return v.Validate(filename, data)
}

// DecodeDataURI parses data:<mime>;base64,<payload> and validates the bytes.
// The declared MIME type is ignored in favour of the sniffed one.
func (v *Validator) DecodeDataURI(uri string) (*EncodedImage, error) {
	header, payload, ok := strings.Cut(strings.TrimSpace(uri), ",")
	if !ok || !strings.HasPrefix(header, "data:") || !strings.HasSuffix(header, ";base64") {
		return nil, rejection(ReasonType, "Image must be a base64 data URI")
	}

	// base64 inflates by 4/3; refuse before decoding
	if int64(len(payload))/4*3 > v.maxBytes+3 {
		return nil, rejection(ReasonSize, fmt.Sprintf("Image is too large: the limit is %s", HumanBytes(v.maxBytes)))
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, apperrors.NewValidationError("Image data is not valid base64", &Rejection{Reason: ReasonType, Err: err})
	}
	return v.Validate("", data)
}

// Rejection carries the machine-readable reason behind an intake error.
type Rejection struct {
	Reason string
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return r.Reason + ": " + r.Err.Error()
	}
	return r.Reason
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

func rejection(reason, message string) error {
	return apperrors.NewValidationError(message, &Rejection{Reason: reason})
}

// ReasonOf extracts the rejection reason from an intake error.
func ReasonOf(err error) string {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ""
}

// baseType drops parameters such as "; charset=binary".
func baseType(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		return strings.TrimSpace(mime[:i])
	}
	return mime
}

// HumanBytes renders n in binary units, e.g. "20 MiB".
func HumanBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// IsAccepted reports whether mime is one of AcceptedTypes.
func IsAccepted(mime string) bool {
	for _, t := range AcceptedTypes {
		if t == baseType(mime) {
			return true
		}
	}
	return false
}
