package rag

import "errors"

// ErrNoContext means retrieval produced nothing usable for the query:
// either no chunk cleared the similarity threshold or nothing fit the
// context token budget.
var ErrNoContext = errors.New("no relevant context")
