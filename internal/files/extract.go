package files

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"image"
	"io"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

const (
	docNotice = "DOC file processing requires additional setup. Please convert to DOCX format for better support."
	pptNotice = "PPT file processing requires additional setup. Please convert to PPTX format for better support."
)

// ExtractText pulls searchable text out of an uploaded file. Legacy
// binary Office formats get a conversion notice instead of text, and
// images yield a metadata description.
func ExtractText(data []byte, filename string) (string, error) {
	var (
		content string
		err     error
	)
	switch FileType(filename) {
	case "pdf":
		content, err = extractPDF(data)
	case "docx":
		content, err = extractDocx(data)
	case "pptx":
		content, err = extractPptx(data)
	case "doc":
		content = docNotice
	case "ppt":
		content = pptNotice
	case "txt":
		content = normalizeText(string(data))
	case "html":
		content, err = extractHTML(data)
	case "jpg", "jpeg", "png", "gif":
		content, err = describeImage(data, filename)
	default:
		return "", fmt.Errorf("unsupported file type: %s", FileType(filename))
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		content = fmt.Sprintf("No extractable content found in %s. The file may be empty, corrupted, or contain only images/graphics.", filename)
	}
	return content, nil
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var b strings.Builder
	totalPages := reader.NumPage()
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing entirely
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return normalizeText(b.String()), nil
}

func extractDocx(data []byte) (string, error) {
	text, err := extractZipXML(data, func(name string) bool {
		return name == "word/document.xml"
	}, "p")
	if err != nil {
		return "", fmt.Errorf("extract docx: %w", err)
	}
	return text, nil
}

func extractPptx(data []byte) (string, error) {
	text, err := extractZipXML(data, func(name string) bool {
		return strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml")
	}, "a:p")
	if err != nil {
		return "", fmt.Errorf("extract pptx: %w", err)
	}
	return text, nil
}

// extractZipXML walks matching XML entries in an OOXML archive and
// collects character data inside <t> runs, breaking lines at paragraph
// ends.
func extractZipXML(data []byte, match func(string) bool, paraTag string) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	paraLocal := paraTag
	if idx := strings.Index(paraTag, ":"); idx >= 0 {
		paraLocal = paraTag[idx+1:]
	}
	var b strings.Builder
	for _, file := range zr.File {
		if !match(file.Name) {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("read archive entry: %w", err)
		}
		if err := collectXMLText(rc, paraLocal, &b); err != nil {
			rc.Close()
			return "", err
		}
		rc.Close()
	}
	return normalizeParagraphs(b.String()), nil
}

func collectXMLText(r io.Reader, paraLocal string, b *strings.Builder) error {
	decoder := xml.NewDecoder(r)
	inText := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case paraLocal:
				b.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
}

func extractHTML(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return normalizeText(extractNodeText(doc)), nil
}

func extractNodeText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "br" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	walk(n)
	return buf.String()
}

func describeImage(data []byte, filename string) (string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Image file: %s\n", filename)
	fmt.Fprintf(&b, "Format: %s\n", strings.ToUpper(format))
	fmt.Fprintf(&b, "Size: %dx%d pixels\n", cfg.Width, cfg.Height)
	b.WriteString("\nNote: Text extraction from images requires OCR setup. Please ensure any important text content is also provided in document form.")
	return b.String(), nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

// normalizeParagraphs keeps line breaks between paragraphs but squeezes
// whitespace within them.
func normalizeParagraphs(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	for _, line := range lines {
		if line = normalizeText(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
