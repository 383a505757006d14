package grovedb

import "github.com/dashpay/grovedb-sub000/storage"

// Auxiliary data lives beside the forest without participating in any
// hash: deployment metadata, schema versions, anything the application
// wants colocated with the store. Keys are namespaced away from the
// engine's own auxiliary records.

var auxUserPrefix = []byte("u:")

func auxKey(key []byte) []byte {
	out := make([]byte, 0, len(auxUserPrefix)+len(key))
	out = append(out, auxUserPrefix...)
	return append(out, key...)
}

// PutAux stores an unhashed auxiliary value.
func (db *DB) PutAux(key, value []byte) error {
	batch := storage.NewBatch()
	ctx := db.context(nil, batch)
	if err := ctx.PutAux(auxKey(key), value); err != nil {
		return err
	}
	return db.store.CommitBatch(batch)
}

// GetAux returns an auxiliary value, or nil if absent.
func (db *DB) GetAux(key []byte) ([]byte, error) {
	return db.context(nil, nil).GetAux(auxKey(key))
}

// DeleteAux removes an auxiliary value.
func (db *DB) DeleteAux(key []byte) error {
	batch := storage.NewBatch()
	ctx := db.context(nil, batch)
	if err := ctx.DeleteAux(auxKey(key)); err != nil {
		return err
	}
	return db.store.CommitBatch(batch)
}
