package capture

import (
	"errors"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// ErrNoCode means no QR code could be decoded from the frame.
var ErrNoCode = errors.New("no QR code in frame")

// Decoder extracts the text payload embedded in a frame.
type Decoder interface {
	Decode(img image.Image) (string, error)
}

// QRDecoder decodes QR codes with gozxing.
type QRDecoder struct {
	hints map[gozxing.DecodeHintType]interface{}
}

// NewQRDecoder returns a decoder. tryHarder trades per-frame latency for
// better recognition of small or skewed codes.
func NewQRDecoder(tryHarder bool) *QRDecoder {
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_CHARACTER_SET: "UTF-8",
	}
	if tryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	return &QRDecoder{hints: hints}
}

// Decode is best-effort: any failure to locate or read a code is ErrNoCode.
func (d *QRDecoder) Decode(img image.Image) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", ErrNoCode
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", ErrNoCode
	}

	res, err := qrcode.NewQRCodeReader().Decode(bmp, d.hints)
	if err != nil {
		return "", ErrNoCode
	}
	return res.GetText(), nil
}
