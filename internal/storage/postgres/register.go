package postgres

import "salesetl/internal/storage"

func init() {
	// registers the backend factory
	storage.Register("postgres", New)
}
