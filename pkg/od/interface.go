package od

import "sync"

// Variable is the main data representation for a value stored inside of OD
// It is used to store a "VAR" or "DOMAIN" object type as well as
// any sub entry of a "RECORD" or "ARRAY" object type
type Variable struct {
	mu           sync.RWMutex
	valueDefault []byte
	value        []byte
	// Name of this variable
	Name string
	// The CiA 301 data type of this variable
	DataType byte
	// Attribute contains the access type as well as the mapping
	// information. e.g. AttributeSdoRw | AttributeRpdo
	Attribute uint8
	// StorageLocation has information on which medium is the data
	// stored. Currently this is unused, everything is stored in RAM
	StorageLocation string
	// The minimum value for this variable
	lowLimit []byte
	// The maximum value for this variable
	highLimit []byte
	// The subindex for this variable if part of an ARRAY or RECORD
	SubIndex uint8
	// Factor and Offset implement the EDS linear scaling of a raw value
	// into an engineering value: phys = raw*Factor + Offset. A variable
	// with no scaling declared in its EDS section gets Factor 1, Offset 0.
	Factor float64
	Offset float64
	// ValueDescriptions maps a raw integer value to a human label, as
	// declared by an EDS section's "ValueDescription<n>=<label>" keys.
	ValueDescriptions map[int64]string
}
