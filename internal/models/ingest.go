package models

// Unit is one page of a converted document or one record of a JSON/JSONL file,
// prior to chunking. Units are never persisted.
type Unit struct {
	Number   int
	Text     string
	Metadata map[string]interface{}
	// Raw is the source record for JSON/JSONL units; nil for converted documents.
	Raw []byte
}

// IngestStats summarizes one ingestion call, including partial failures.
type IngestStats struct {
	Filename string `json:"filename"`
	FileType string `json:"file_type"`
	// Pages is the number of units (pages or records) that produced text.
	Pages int `json:"pages"`
	// Chunks is the number of chunks embedded successfully.
	Chunks         int  `json:"chunks"`
	ChunksFailed   int  `json:"chunks_failed"`
	Upserted       int  `json:"upserted"`
	BatchesFailed  int  `json:"batches_failed"`
	RecordsSkipped int  `json:"records_skipped"`
	IndexAvailable bool `json:"index_available"`
}
