package keyperdb

import "errors"

// ErrUnknownCollection is returned by GetCollection/GetCollectionOf when
// no collection with that name has been registered.
var ErrUnknownCollection = errors.New("keyperdb: no such collection")

// ErrUntaggedEntity is returned by GetCollectionOf when passed an entity
// that never went through Collection.Insert and so carries no
// collection tag.
var ErrUntaggedEntity = errors.New("keyperdb: entity carries no collection tag")
