// Package artifact stores the metadata manifests produced by project runs.
//
// Only artifact metadata (core.ArtifactMeta) is persisted: which outputs a
// task generated, in which phase, by which generator. Artifact content lives
// wherever the generating agent wrote it; a metadata-only manifest stays
// cheap enough to keep every project's history in process.
//
// Callers should depend on the Store interface rather than a concrete type
// so a durable backend (object store, database) can be substituted without
// touching calling code.
package artifact
