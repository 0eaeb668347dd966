// Package pagination fetches every record of a configured endpoint.
//
// Pages are fetched strictly one after another: each page's cursor depends
// on the previous response. Two conventions are supported, selected by the
// endpoint configuration rather than by inspecting response bodies:
//
//   - Links: follow the rel=next entry of the response's links array until
//     a page carries none.
//   - PageCounter: request page n with a fixed page size and stop after the
//     first page that returns fewer records than the page size.
//
// A page whose retries are exhausted fails the whole fetch; partial results
// are never returned.
//
// DetailFetcher resolves one record per id, issuing the requests of each
// fixed-size batch concurrently and joining before the next batch starts.
// A failed detail request is logged and skipped.
package pagination
