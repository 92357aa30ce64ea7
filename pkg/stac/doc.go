// Package stac turns a validated publish plan into STAC documents.
//
// The writer produces one collection document and one item document per
// analysis unit, each paired with its canonical layout path. Primary raster
// assets carry absolute store references; every other reference is relative
// to the document that embeds it. The writer never performs I/O: publishing
// the documents is the publisher's job.
package stac
