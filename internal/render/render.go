// Package render prints transcript items, connection status and knowledge-base
// results to a terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/xiaot623/gogo/chatlink/internal/conn"
	"github.com/xiaot623/gogo/chatlink/internal/protocol"
	"github.com/xiaot623/gogo/chatlink/internal/rag"
	"github.com/xiaot623/gogo/chatlink/internal/transcript"
)

var (
	userColor      = color.New(color.FgCyan, color.Bold)
	assistantColor = color.New(color.FgGreen, color.Bold)
	errorColor     = color.New(color.FgRed)
	activityColor  = color.New(color.FgYellow)
	ragColor       = color.New(color.FgHiBlack)
	authColor      = color.New(color.FgBlue, color.Bold)
	okColor        = color.New(color.FgGreen)
	dimColor       = color.New(color.FgHiBlack)
)

// Renderer writes human-readable output. It is safe for concurrent use.
type Renderer struct {
	out io.Writer
	mu  sync.Mutex
}

// New creates a renderer writing to out.
func New(out io.Writer) *Renderer {
	return &Renderer{out: out}
}

// Item prints one transcript item.
func (r *Renderer) Item(item transcript.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch it := item.(type) {
	case transcript.MessageItem:
		r.message(it)
	case transcript.ActivityItem:
		r.activity(it)
	}
}

// Items prints a whole transcript.
func (r *Renderer) Items(items []transcript.Item) {
	for _, item := range items {
		r.Item(item)
	}
}

func (r *Renderer) message(m transcript.MessageItem) {
	switch {
	case m.Role == transcript.RoleUser:
		userColor.Fprint(r.out, "you> ")
		fmt.Fprintln(r.out, m.Content)
	case strings.HasPrefix(m.Content, "Error: "):
		assistantColor.Fprint(r.out, "assistant> ")
		errorColor.Fprintln(r.out, m.Content)
	default:
		assistantColor.Fprint(r.out, "assistant> ")
		fmt.Fprintln(r.out, m.Content)
	}
}

func (r *Renderer) activity(a transcript.ActivityItem) {
	c := activityColor
	switch a.Kind {
	case protocol.TypeRagContext:
		c = ragColor
	case protocol.TypeConnectionEstablished:
		c = okColor
	case protocol.TypeConnectionStatus:
		if a.Data.ConnectionStatus().Connected {
			c = okColor
		}
	case protocol.TypeConnectionRequired:
		c = authColor
	}

	c.Fprintf(r.out, "  * %s\n", a.Label())

	if details := a.Details(); details != "" {
		for _, line := range strings.Split(details, "\n") {
			dimColor.Fprintf(r.out, "      %s\n", line)
		}
	}

	if a.Kind == protocol.TypeConnectionRequired {
		req := a.Data.ConnectionRequired()
		msg := req.Message
		if msg == "" {
			msg = transcript.DefaultAuthMessage
		}
		fmt.Fprintf(r.out, "    %s\n", msg)
		if req.RedirectURL != "" {
			fmt.Fprintln(r.out, "    Type /auth to open the authorization link, then /done once finished.")
		}
	}
}

// Status prints a connection status change.
func (r *Renderer) Status(s conn.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch s {
	case conn.StatusConnected:
		okColor.Fprintln(r.out, "[connected]")
	case conn.StatusConnecting:
		dimColor.Fprintln(r.out, "[connecting...]")
	default:
		errorColor.Fprintln(r.out, "[disconnected]")
	}
}

// Loading prints the waiting indicator.
func (r *Renderer) Loading() {
	r.mu.Lock()
	defer r.mu.Unlock()
	dimColor.Fprintln(r.out, "  ...")
}

// AuthLink prints the authorization URL the user must visit.
func (r *Renderer) AuthLink(p transcript.AuthPrompt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	authColor.Fprintf(r.out, "Authorize %s: ", p.Toolkit)
	fmt.Fprintln(r.out, p.RedirectURL)
	fmt.Fprintln(r.out, "Completed authentication? Type /done.")
}

// Notice prints an informational line.
func (r *Renderer) Notice(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dimColor.Fprintf(r.out, format+"\n", args...)
}

// Error prints an error line.
func (r *Renderer) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	errorColor.Fprintf(r.out, "Error: %v\n", err)
}

// Health prints knowledge-base health.
func (r *Renderer) Health(h *rag.HealthResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.Healthy {
		okColor.Fprintln(r.out, "healthy")
	} else {
		errorColor.Fprintln(r.out, "unhealthy")
	}
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "embedding\t%s\n", h.EmbeddingService)
	fmt.Fprintf(tw, "chromadb\t%s\n", h.ChromaDBService)
	tw.Flush()
}

// Stats prints collection statistics.
func (r *Renderer) Stats(s *rag.CollectionStatsResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "collection\t%s\n", s.CollectionName)
	fmt.Fprintf(tw, "documents\t%d\n", s.DocumentCount)
	fmt.Fprintf(tw, "dimension\t%d\n", s.EmbeddingDimension)
	tw.Flush()
	if s.Error != "" {
		errorColor.Fprintf(r.out, "error: %s\n", s.Error)
	}
}

// PDFs prints the uploaded PDF list.
func (r *Renderer) PDFs(list *rag.PDFListResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(list.PDFs) == 0 {
		dimColor.Fprintln(r.out, "no PDFs uploaded")
		return
	}
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILENAME\tCHUNKS\tUPLOADED\tHASH")
	for _, p := range list.PDFs {
		uploaded := "-"
		if p.UploadedAt != nil && *p.UploadedAt != "" {
			uploaded = *p.UploadedAt
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", p.Filename, p.NumChunks, uploaded, shortHash(p.FileHash))
	}
	tw.Flush()
	fmt.Fprintf(r.out, "%d total\n", list.Total)
}

// SearchResults prints search matches.
func (r *Renderer) SearchResults(resp *rag.DocumentSearchResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(resp.Results) == 0 {
		dimColor.Fprintln(r.out, "no results")
		return
	}
	for i, res := range resp.Results {
		activityColor.Fprintf(r.out, "%d. %s ", i+1, res.ID)
		dimColor.Fprintf(r.out, "(distance %.4f)\n", res.Distance)
		fmt.Fprintf(r.out, "   %s\n", strings.TrimSpace(res.ChunkText))
	}
	fmt.Fprintf(r.out, "%d total\n", resp.Total)
}

// Upload prints the result of a PDF upload.
func (r *Renderer) Upload(resp *rag.PDFUploadResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	okColor.Fprintf(r.out, "uploaded %s: %d chunks\n", resp.Filename, resp.NumChunks)
}

// Ingest prints the result of a document ingest.
func (r *Renderer) Ingest(resp *rag.DocumentIngestResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !resp.Success {
		errorColor.Fprintln(r.out, "ingest failed")
		return
	}
	okColor.Fprintf(r.out, "ingested %d chunks in %.0fms\n", resp.TotalChunks, resp.TotalLatencyMs)
}

// Deleted prints the result of a document deletion.
func (r *Renderer) Deleted(resp *rag.DeleteResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if resp.Deleted {
		okColor.Fprintf(r.out, "deleted %s\n", resp.ID)
		return
	}
	errorColor.Fprintf(r.out, "%s was not deleted\n", resp.ID)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
