package instructions

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/api/docs/v1"
	"google.golang.org/api/drive/v3"
)

// GoogleDocs reads instructions from Google Docs, using the Drive file
// version as the change token.
type GoogleDocs struct {
	docs  *docs.Service
	drive *drive.Service
}

// NewGoogleDocs creates a Source over authenticated Docs and Drive services.
func NewGoogleDocs(docsSvc *docs.Service, driveSvc *drive.Service) *GoogleDocs {
	return &GoogleDocs{docs: docsSvc, drive: driveSvc}
}

func (g *GoogleDocs) Revision(ctx context.Context, ref string) (string, error) {
	f, err := g.drive.Files.Get(ref).
		Fields("version, modifiedTime").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive revision: %w", err)
	}
	return strconv.FormatInt(f.Version, 10) + "@" + f.ModifiedTime, nil
}

func (g *GoogleDocs) Fetch(ctx context.Context, ref string) (string, error) {
	doc, err := g.docs.Documents.Get(ref).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("docs fetch: %w", err)
	}
	return ExtractText(doc), nil
}

// ExtractText concatenates the text runs of a document body, including
// text inside tables and tables of contents.
func ExtractText(doc *docs.Document) string {
	if doc == nil || doc.Body == nil {
		return ""
	}
	var b strings.Builder
	writeElements(&b, doc.Body.Content)
	return strings.TrimSpace(b.String())
}

func writeElements(b *strings.Builder, elems []*docs.StructuralElement) {
	for _, el := range elems {
		switch {
		case el.Paragraph != nil:
			for _, pe := range el.Paragraph.Elements {
				if pe.TextRun != nil {
					b.WriteString(pe.TextRun.Content)
				}
			}
		case el.Table != nil:
			for _, row := range el.Table.TableRows {
				for _, cell := range row.TableCells {
					writeElements(b, cell.Content)
				}
			}
		case el.TableOfContents != nil:
			writeElements(b, el.TableOfContents.Content)
		}
	}
}
