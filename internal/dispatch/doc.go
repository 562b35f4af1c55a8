// Package dispatch fans reads out to a fixed pool of workers and hands the
// results back in input order.
//
// The only contract to implement is Classifier (Classify). Each worker writes
// only into the result slot addressed by the read's position, so ordering
// never depends on scheduling and one failing read cannot disturb another.
package dispatch
