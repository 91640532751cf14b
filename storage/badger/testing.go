package badger

// NewMemoryStore opens an in-memory backend and returns a record store and
// ledger on it. Closing the store closes the backend.
func NewMemoryStore() (*RecordStore, *Ledger, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, nil, err
	}

	store, err := NewRecordStore(backend)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}
	store.ownsBackend = true

	return store, NewLedger(backend), nil
}
