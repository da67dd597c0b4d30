package rag

// DocumentIngestRequest adds raw text documents to the knowledge base.
type DocumentIngestRequest struct {
	Documents []string         `json:"documents"`
	Metadatas []map[string]any `json:"metadatas"`
	IDs       []string         `json:"ids,omitempty"`
}

// DocumentIngestResponse reports the outcome of an ingest.
type DocumentIngestResponse struct {
	Success        bool    `json:"success"`
	TotalChunks    int     `json:"total_chunks"`
	TotalLatencyMs float64 `json:"total_latency_ms"`
}

// DocumentSearchRequest is a similarity search.
type DocumentSearchRequest struct {
	Query               string   `json:"query"`
	NResults            int      `json:"n_results,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
}

// DocumentSearchResult is one matched chunk.
type DocumentSearchResult struct {
	ID        string         `json:"id"`
	ChunkText string         `json:"chunk_text"`
	Metadata  map[string]any `json:"metadata"`
	Distance  float64        `json:"distance"`
}

// DocumentSearchResponse holds search matches.
type DocumentSearchResponse struct {
	Results []DocumentSearchResult `json:"results"`
	Total   int                    `json:"total"`
}

// CollectionStatsResponse describes the vector collection.
type CollectionStatsResponse struct {
	CollectionName     string `json:"collection_name"`
	DocumentCount      int    `json:"document_count"`
	EmbeddingDimension int    `json:"embedding_dimension"`
	Error              string `json:"error,omitempty"`
}

// HealthResponse reports knowledge-base dependencies.
type HealthResponse struct {
	Healthy          bool   `json:"healthy"`
	EmbeddingService string `json:"embedding_service"`
	ChromaDBService  string `json:"chromadb_service"`
}

// PDFUploadResponse is returned after a PDF has been chunked and stored.
type PDFUploadResponse struct {
	Filename       string   `json:"filename"`
	NumChunks      int      `json:"num_chunks"`
	DocumentIDs    []string `json:"document_ids"`
	CollectionName string   `json:"collection_name"`
	Status         string   `json:"status"`
}

// PDFListItem is one uploaded PDF.
type PDFListItem struct {
	Filename   string  `json:"filename"`
	FileHash   string  `json:"file_hash"`
	NumChunks  int     `json:"num_chunks"`
	UploadedAt *string `json:"uploaded_at,omitempty"`
}

// PDFListResponse lists uploaded PDFs.
type PDFListResponse struct {
	PDFs  []PDFListItem `json:"pdfs"`
	Total int           `json:"total"`
}

// DeleteResponse confirms a document deletion.
type DeleteResponse struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}
