// Package reqcache provides a deduplicating, TTL-bounded cache in front of an
// expensive request function, such as a homeserver profile lookup.
//
// A Cache holds at most maxSize keys. Entries expire ttl after they were
// fetched and are evicted strictly in insertion order when the cache is full;
// reading or refreshing a key never moves it. There is no background sweep:
// an expired entry keeps its slot until it is refreshed or evicted. Concurrent Get calls for the
// same key share one in-flight request, and a failed request is never cached,
// so the following Get tries again.
package reqcache
