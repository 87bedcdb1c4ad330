// Package machina is a data-oriented iteration engine. Entities (subjects)
// carry value-typed traits stored densely in chunks and class-based details
// stored sparsely in belts. Systems enchain the iterables matching a filter
// and operate over the resulting chain, mutating trait data in place while
// the lock protocol defers structural changes.
package machina
