/*
Package formstore implements a backend-agnostic typed row store for form
submissions, on top of interchangeable storage engines.

We implement:

1. Relations (field schemas), an ordered list of typed fields preceded by the
standard columns every row carries (URI, creation and update dates, parent link,
ordinal number, top-level owner).

2. Rows, typed in-memory snapshots of a relation's records, produced from raw
backend rows by the row mapper (MapRow).

3. Queries, filter and sort specifications executed by a Datastore.

4. A write-once chunked blob store for binary content that exceeds one row.

5. KVStore, a Datastore on top of a key-value engine (Bolt, or an in-memory
engine for tests). The relational engine lives in the sqlstore package.

# Technical Details

**Buckets.**
KVStore keeps one root bucket per relation with nested buckets for data and
indices. Bolt supports nested buckets natively; the in-memory engine simulates
them with key prefixes.

**Data bucket.** Key is the row URI, value is a msgpack map from field name to
value. Decimals are stored as canonical strings, times as msgpack timestamps.

**Index buckets.** `i.parent` and `i.top` index _PARENT_AURI and
_TOP_LEVEL_AURI. Key format: escaped value, 0x00 0x01 terminator, ordinal number
(8 bytes, big-endian, sign bit flipped), row URI. The value is empty. A scan of
one parent's prefix yields rows ordered by (parent, ordinal, URI), which is the
access pattern repeat-group reconstruction depends on.
*/
package formstore
