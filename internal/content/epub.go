package content

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// EPUBProvider handles EPUB archives. Each linear spine item becomes one
// section; the section id is the manifest item id, which EPUB requires to
// be unique and which stays stable across re-parses of the same file.
type EPUBProvider struct{}

// containerXML models META-INF/container.xml, used to locate the OPF file.
type containerXML struct {
	RootFiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

// opfPackage models the subset of the OPF package document this provider
// needs: the manifest (id to href mapping) and the spine (reading order).
type opfPackage struct {
	Metadata struct {
		Titles []string `xml:"http://purl.org/dc/elements/1.1/ title"`
	} `xml:"metadata"`
	Manifest struct {
		Items []struct {
			ID        string `xml:"id,attr"`
			Href      string `xml:"href,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []struct {
			IDRef  string `xml:"idref,attr"`
			Linear string `xml:"linear,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

func (p *EPUBProvider) Parse(r io.Reader, filename string) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read epub: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open epub archive: %w", err)
	}

	opfPath, err := locateOPF(zr)
	if err != nil {
		return nil, err
	}
	opfData, err := readZipFile(zr, opfPath)
	if err != nil {
		return nil, fmt.Errorf("read opf: %w", err)
	}

	var pkg opfPackage
	if err := xml.Unmarshal(stripBOM(opfData), &pkg); err != nil {
		return nil, fmt.Errorf("parse opf: %w", err)
	}

	hrefs := make(map[string]string, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		hrefs[item.ID] = item.Href
	}

	title := strings.TrimSuffix(filename, ".epub")
	if len(pkg.Metadata.Titles) > 0 && strings.TrimSpace(pkg.Metadata.Titles[0]) != "" {
		title = strings.TrimSpace(pkg.Metadata.Titles[0])
	}

	opfDir := path.Dir(opfPath)
	doc := &Document{Title: title}

	for _, ref := range pkg.Spine.ItemRefs {
		if strings.EqualFold(ref.Linear, "no") {
			continue
		}
		href, ok := hrefs[ref.IDRef]
		if !ok {
			continue
		}
		full := href
		if opfDir != "." {
			full = path.Join(opfDir, href)
		}
		raw, err := readZipFile(zr, full)
		if err != nil {
			// A spine entry pointing at a missing file does not fail the
			// whole book.
			continue
		}

		sec, err := epubSection(stripBOM(raw))
		if err != nil {
			continue
		}
		sec.ID = ref.IDRef
		sec.ChapterID = href
		doc.Sections = append(doc.Sections, sec)
	}

	if len(doc.Sections) == 0 {
		return nil, fmt.Errorf("epub has no readable spine content")
	}
	return doc, nil
}

// epubSection extracts the sanitized body of one spine XHTML file.
func epubSection(raw []byte) (Section, error) {
	node, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return Section{}, fmt.Errorf("parse spine item: %w", err)
	}
	body := findElement(node, "body")
	if body == nil {
		return Section{}, fmt.Errorf("spine item has no body")
	}
	sanitize(body)
	inner, err := innerHTML(body)
	if err != nil {
		return Section{}, err
	}
	return Section{Title: firstHeadingText(body), HTML: inner}, nil
}

// locateOPF finds the OPF package path via container.xml, falling back to a
// scan for any .opf entry when the container is missing or unusable.
func locateOPF(zr *zip.Reader) (string, error) {
	if data, err := readZipFile(zr, "META-INF/container.xml"); err == nil {
		var c containerXML
		if err := xml.Unmarshal(stripBOM(data), &c); err == nil {
			for _, rf := range c.RootFiles {
				if strings.TrimSpace(rf.FullPath) != "" {
					return strings.TrimSpace(rf.FullPath), nil
				}
			}
		}
	}
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".opf") {
			return f.Name, nil
		}
	}
	return "", fmt.Errorf("epub has no OPF package document")
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("file %s not in archive", name)
}

func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
}
