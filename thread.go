package imap

// ThreadAlgorithm names a THREAD command algorithm (RFC 5256 §3).
type ThreadAlgorithm string

const (
	ThreadAlgorithmOrderedSubject ThreadAlgorithm = "ORDEREDSUBJECT"
	ThreadAlgorithmReferences     ThreadAlgorithm = "REFERENCES"
)

// Thread is one node of a THREAD response tree: a message number with its
// children, ordered as the algorithm produced them.
type Thread struct {
	Num      uint32
	Children []Thread
}

// ThreadData is the result of a THREAD command: a forest of message threads.
type ThreadData struct {
	Threads []Thread
}
