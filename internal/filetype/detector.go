// Package filetype sniffs uploads by content and sorts them into the
// extraction paths the service supports.
package filetype

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Kind selects the extraction path.
type Kind string

const (
	KindText        Kind = "txt"
	KindPDF         Kind = "pdf"
	KindWord        Kind = "word"
	KindImage       Kind = "image"
	KindUnsupported Kind = ""
)

// Info contains detected file type information.
type Info struct {
	MIMEType    string
	Extension   string
	Kind        Kind
	Description string
}

// Supported reports whether an extraction path exists for the file.
func (i *Info) Supported() bool { return i.Kind != KindUnsupported }

// NeedsConversion reports whether the file must go through LibreOffice first.
func (i *Info) NeedsConversion() bool { return i.Kind == KindWord }

// Office containers are sniffed as generic zip or OLE storage; the file name
// extension disambiguates them.
var zipByExt = map[string]string{
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".odt":  "application/vnd.oasis.opendocument.text",
}

var oleByExt = map[string]string{
	".doc": "application/msword",
}

var wordMIMEs = map[string]string{
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "Microsoft Word document",
	"application/msword":                      "Microsoft Word document (legacy)",
	"application/vnd.oasis.opendocument.text": "OpenDocument text",
	"application/rtf":                         "Rich Text Format",
	"text/rtf":                                "Rich Text Format",
}

// Detector handles file type detection using magic bytes.
type Detector struct{}

func New() *Detector { return &Detector{} }

// Detect sniffs filePath. name is the client-side file name, used only to
// disambiguate container formats; empty means filePath's base name.
func (d *Detector) Detect(filePath, name string) (*Info, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}
	if name == "" {
		name = filePath
	}
	info := &Info{MIMEType: mtype.String(), Extension: mtype.Extension()}
	ext := strings.ToLower(filepath.Ext(name))

	switch {
	case mtype.Is("application/zip"):
		if m, ok := zipByExt[ext]; ok {
			info.MIMEType, info.Extension = m, ext
		}
	case mtype.Is("application/x-ole-storage"):
		if m, ok := oleByExt[ext]; ok {
			info.MIMEType, info.Extension = m, ext
		}
	}
	if info.MIMEType != mtype.String() {
		log.Debug().Str("original", mtype.String()).Str("override", info.MIMEType).Msg("container type resolved by extension")
	}

	classify(info)
	log.Debug().Str("mime", info.MIMEType).Str("kind", string(info.Kind)).Str("file", filePath).Msg("detected file type")
	return info, nil
}

func classify(info *Info) {
	base, _, _ := strings.Cut(info.MIMEType, ";")
	switch {
	case base == "application/pdf":
		info.Kind, info.Description = KindPDF, "PDF document"
	case wordMIMEs[base] != "":
		info.Kind, info.Description = KindWord, wordMIMEs[base]
	case strings.HasPrefix(base, "text/"):
		info.Kind, info.Description = KindText, "Plain text file"
	case strings.HasPrefix(base, "image/"):
		info.Kind, info.Description = KindImage, "Image file"
	default:
		info.Kind, info.Description = KindUnsupported, fmt.Sprintf("Unsupported file type: %s", info.MIMEType)
	}
}
