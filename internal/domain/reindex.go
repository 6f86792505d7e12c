package domain

// ReindexContext narrows a reindex request to websites and entity ids. Page
// and PageSize select a slice of a full reindex; they are only set on chunks.
type ReindexContext struct {
	WebsiteIDs []int    `json:"website_ids,omitempty" validate:"dive,gt=0"`
	EntityIDs  []string `json:"entity_ids,omitempty" validate:"dive,required"`
	Page       int      `json:"page,omitempty" validate:"gte=0"`
	PageSize   int      `json:"page_size,omitempty" validate:"gte=0"`
}

// ReindexRequest is the payload of a reindex message. A message carrying a
// JobID is a chunk of an already granulized pass; its indices were created by
// the pass that emitted it.
type ReindexRequest struct {
	EntityType      string          `json:"entity_type" validate:"required"`
	Context         ReindexContext  `json:"context"`
	Granulize       bool            `json:"granulize"`
	JobID           int64           `json:"job_id,omitempty"`
	IndicesByLocale IndicesByLocale `json:"indices_by_locale"`
}

// IsFullReindex reports whether the request rebuilds the whole entity set,
// i.e. no explicit entity id subset was given.
func (r *ReindexRequest) IsFullReindex() bool {
	return len(r.Context.EntityIDs) == 0
}

// IsChunk reports whether the request is a child job invocation.
func (r *ReindexRequest) IsChunk() bool {
	return r.JobID != 0
}

// FinishMessage is published once every chunk of a granulized pass is done.
// Field names are consumed by other services and must not change.
type FinishMessage struct {
	RootJobID       int64           `json:"root_job_id"`
	IndicesByLocale IndicesByLocale `json:"indices_by_locale"`
	IsFullReindex   bool            `json:"is_full_reindex"`
}
