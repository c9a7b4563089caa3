package od

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"runtime"
	"strings"

	"gopkg.in/ini.v1"
)

// An Entry object is the main building block of an [ObjectDictionary].
// it holds an OD entry, i.e. an OD object at a specific index.
// An entry can be one of the following object types, defined by CiA 301
//   - VAR [Variable]
//   - DOMAIN [Variable]
//   - ARRAY [VariableList]
//   - RECORD [VariableList]
//
// If the Object is an ARRAY or a RECORD it can hold also multiple sub entries.
// sub entries are always of type VAR, for simplicity.
type Entry struct {
	logger *slog.Logger
	// The OD index e.g. x1006
	Index uint16
	// The OD name inside of EDS
	Name string
	// The OD object type, as cited above.
	ObjectType uint8
	// Either a [Variable] or a [VariableList] object
	object            any
	extension         *extension
	subEntriesNameMap map[string]uint8
}

// Create a new [Entry]
func NewEntry(logger *slog.Logger, index uint16, name string, object any, objectType uint8) *Entry {
	return &Entry{
		logger:            logger.With("index", fmt.Sprintf("x%x", index), "name", name),
		Index:             index,
		Name:              name,
		object:            object,
		ObjectType:        objectType,
		subEntriesNameMap: map[string]uint8{},
	}
}

// Subindex returns the [Variable] at a given subindex.
// subindex can be a string, int, or uint8.
// When using a string it will try to find the subindex according to the OD naming.
func (entry *Entry) SubIndex(subIndex any) (v *Variable, e error) {
	if entry == nil {
		return nil, ErrIdxNotExist
	}
	switch object := entry.object.(type) {
	case *Variable:
		if subIndex != 0 && subIndex != uint8(0) && subIndex != "" {
			return nil, ErrSubNotExist
		}
		return object, nil
	case *VariableList:
		var convertedSubIndex uint8
		var ok bool
		switch sub := subIndex.(type) {
		case string:
			convertedSubIndex, ok = entry.subEntriesNameMap[sub]
			if !ok {
				return nil, ErrSubNotExist
			}
		case int:
			if sub >= 256 {
				return nil, ErrDevIncompat
			}
			convertedSubIndex = uint8(sub)
		case uint8:
			convertedSubIndex = sub
		default:
			return nil, ErrDevIncompat

		}
		return object.GetSubObject(convertedSubIndex)
	default:
		// This is not normal
		return nil, ErrDevIncompat
	}

}

// Add a member to Entry, this is only possible for Record/Array objects
func (entry *Entry) addSectionMember(section *ini.Section, name string, nodeId uint8, subIndex uint8) error {
	record, ok := entry.object.(*VariableList)
	if !ok {
		return fmt.Errorf("cannot add member to type : %T", record)
	}
	variable, err := NewVariableFromSection(section, name, nodeId, entry.Index, subIndex)
	if err != nil {
		return err
	}
	switch entry.ObjectType {
	case ObjectTypeARRAY:
		record.Variables[subIndex] = variable
		entry.subEntriesNameMap[name] = subIndex
	case ObjectTypeRECORD:
		record.Variables = append(record.Variables, variable)
		entry.subEntriesNameMap[name] = subIndex
	default:
		return fmt.Errorf("add member not supported for ObjectType : %v", entry.ObjectType)
	}
	return nil
}

// Add an extension to an OD entry
// This allows an OD entry to perform custom behaviour on read or on write.
// Some extensions are already defined in this package for defined CiA entries
// e.g. objects x1005, x1006, etc.
// Implementation of the default StreamReader & StreamWriter for a regular OD entry
// can be found here [ReadEntryDefault] & [WriteEntryDefault].
func (entry *Entry) AddExtension(object any, read StreamReader, write StreamWriter) {
	entry.logger.Debug("added extension",
		"read", getFunctionName(read),
		"write", getFunctionName(write),
	)
	extension := &extension{object: object, read: read, write: write}
	entry.extension = extension
}

// SubCount returns the number of sub entries inside entry.
// If entry is of VAR type it will return 1
func (entry *Entry) SubCount() int {

	switch object := entry.object.(type) {
	case *Variable:
		return 1
	case *VariableList:
		return len(object.Variables)
	default:
		// This is not normal
		entry.logger.Error("invalid entry", "type", fmt.Sprintf("%T", entry))
		return 1
	}
}

func (entry *Entry) Extension() *extension {
	return entry.extension
}

func (entry *Entry) FlagPDOByte(subIndex byte) *uint8 {
	return &entry.extension.flagsPDO[subIndex>>3]
}

// Uint8 reads data inside of OD as if it were and UNSIGNED8.
// It returns an error if length is incorrect or read failed.
func (entry *Entry) Uint8(subIndex uint8) (uint8, error) {
	sub, err := entry.SubIndex(subIndex)
	if err != nil {
		return 0, err
	}
	return sub.Uint8()
}

// Uint16 reads data inside of OD as if it were and UNSIGNED16.
// It returns an error if length is incorrect or read failed.
func (entry *Entry) Uint16(subIndex uint8) (uint16, error) {
	sub, err := entry.SubIndex(subIndex)
	if err != nil {
		return 0, err
	}
	return sub.Uint16()
}

// Uint32 reads data inside of OD as if it were and UNSIGNED32.
// It returns an error if length is incorrect or read failed.
func (entry *Entry) Uint32(subIndex uint8) (uint32, error) {
	sub, err := entry.SubIndex(subIndex)
	if err != nil {
		return 0, err
	}
	return sub.Uint32()
}

// Uint64 reads data inside of OD as if it were and UNSIGNED64.
// It returns an error if length is incorrect or read failed.
func (entry *Entry) Uint64(subIndex uint8) (uint64, error) {
	sub, err := entry.SubIndex(subIndex)
	if err != nil {
		return 0, err
	}
	return sub.Uint64()
}

// PutUint8 writes an UNSIGNED8 to OD entry.
// origin can be set to true in order to bypass any existing extension.
func (entry *Entry) PutUint8(subIndex uint8, value uint8, origin bool) error {
	b := []byte{value}
	err := entry.WriteExactly(subIndex, b, origin)
	if err != nil {
		return err
	}
	return nil
}

// PutUint16 writes an UNSIGNED16 to OD entry.
// origin can be set to true in order to bypass any existing extension.
func (entry *Entry) PutUint16(subIndex uint8, data uint16, origin bool) error {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, data)
	err := entry.WriteExactly(subIndex, b, origin)
	if err != nil {
		return err
	}
	return nil
}

// PutUint32 writes an UNSIGNED32 to OD entry.
// origin can be set to true in order to bypass any existing extension.
func (entry *Entry) PutUint32(subIndex uint8, data uint32, origin bool) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, data)
	err := entry.WriteExactly(subIndex, b, origin)
	if err != nil {
		return err
	}
	return nil
}

// PutUint64 writes an UNSIGNED64 to OD entry.
// origin can be set to true in order to bypass any existing extension.
func (entry *Entry) PutUint64(subIndex uint8, data uint64, origin bool) error {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, data)
	err := entry.WriteExactly(subIndex, b, origin)
	if err != nil {
		return err
	}
	return nil
}

// Int8 reads data inside of OD as if it were an INTEGER8.
func (entry *Entry) Int8(subIndex uint8) (int8, error) {
	sub, err := entry.SubIndex(subIndex)
	if err != nil {
		return 0, err
	}
	return sub.Int8()
}

// Int16 reads data inside of OD as if it were an INTEGER16.
func (entry *Entry) Int16(subIndex uint8) (int16, error) {
	sub, err := entry.SubIndex(subIndex)
	if err != nil {
		return 0, err
	}
	return sub.Int16()
}

// Int32 reads data inside of OD as if it were an INTEGER32.
func (entry *Entry) Int32(subIndex uint8) (int32, error) {
	sub, err := entry.SubIndex(subIndex)
	if err != nil {
		return 0, err
	}
	return sub.Int32()
}

// Int64 reads data inside of OD as if it were an INTEGER64.
func (entry *Entry) Int64(subIndex uint8) (int64, error) {
	sub, err := entry.SubIndex(subIndex)
	if err != nil {
		return 0, err
	}
	return sub.Int64()
}

// Float32 reads data inside of OD as if it were a REAL32.
func (entry *Entry) Float32(subIndex uint8) (float32, error) {
	sub, err := entry.SubIndex(subIndex)
	if err != nil {
		return 0, err
	}
	return sub.Float32()
}

// Float64 reads data inside of OD as if it were a REAL64.
func (entry *Entry) Float64(subIndex uint8) (float64, error) {
	sub, err := entry.SubIndex(subIndex)
	if err != nil {
		return 0, err
	}
	return sub.Float64()
}

// PutInt8 writes an INTEGER8 to OD entry.
func (entry *Entry) PutInt8(subIndex uint8, value int8, origin bool) error {
	return entry.WriteExactly(subIndex, []byte{byte(value)}, origin)
}

// PutInt16 writes an INTEGER16 to OD entry.
func (entry *Entry) PutInt16(subIndex uint8, value int16, origin bool) error {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(value))
	return entry.WriteExactly(subIndex, b, origin)
}

// PutInt32 writes an INTEGER32 to OD entry.
func (entry *Entry) PutInt32(subIndex uint8, value int32, origin bool) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(value))
	return entry.WriteExactly(subIndex, b, origin)
}

// PutInt64 writes an INTEGER64 to OD entry.
func (entry *Entry) PutInt64(subIndex uint8, value int64, origin bool) error {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(value))
	return entry.WriteExactly(subIndex, b, origin)
}

// PutFloat32 writes a REAL32 to OD entry.
func (entry *Entry) PutFloat32(subIndex uint8, value float32, origin bool) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(value))
	return entry.WriteExactly(subIndex, b, origin)
}

// PutFloat64 writes a REAL64 to OD entry.
func (entry *Entry) PutFloat64(subIndex uint8, value float64, origin bool) error {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(value))
	return entry.WriteExactly(subIndex, b, origin)
}

// putRaw writes a raw numeric value, rounding to the nearest integer for
// non-float datatypes, in the width and encoding given by dataType.
func (entry *Entry) putRaw(subIndex uint8, dataType uint8, raw float64, origin bool) error {
	switch dataType {
	case BOOLEAN, UNSIGNED8:
		return entry.PutUint8(subIndex, uint8(math.Round(raw)), origin)
	case INTEGER8:
		return entry.PutInt8(subIndex, int8(math.Round(raw)), origin)
	case UNSIGNED16:
		return entry.PutUint16(subIndex, uint16(math.Round(raw)), origin)
	case INTEGER16:
		return entry.PutInt16(subIndex, int16(math.Round(raw)), origin)
	case UNSIGNED32:
		return entry.PutUint32(subIndex, uint32(math.Round(raw)), origin)
	case INTEGER32:
		return entry.PutInt32(subIndex, int32(math.Round(raw)), origin)
	case UNSIGNED64:
		return entry.PutUint64(subIndex, uint64(math.Round(raw)), origin)
	case INTEGER64:
		return entry.PutInt64(subIndex, int64(math.Round(raw)), origin)
	case REAL32:
		return entry.PutFloat32(subIndex, float32(raw), origin)
	case REAL64:
		return entry.PutFloat64(subIndex, raw, origin)
	default:
		return ErrTypeMismatch
	}
}

// putRawUint writes a raw bit pattern in the width and encoding given by
// dataType, used by PutBits() to preserve datatype width across a
// read-modify-write of a subset of bits.
func (entry *Entry) putRawUint(subIndex uint8, dataType uint8, raw uint64, origin bool) error {
	switch dataType {
	case BOOLEAN, UNSIGNED8:
		return entry.PutUint8(subIndex, uint8(raw), origin)
	case INTEGER8:
		return entry.PutInt8(subIndex, int8(uint8(raw)), origin)
	case UNSIGNED16:
		return entry.PutUint16(subIndex, uint16(raw), origin)
	case INTEGER16:
		return entry.PutInt16(subIndex, int16(uint16(raw)), origin)
	case UNSIGNED32:
		return entry.PutUint32(subIndex, uint32(raw), origin)
	case INTEGER32:
		return entry.PutInt32(subIndex, int32(uint32(raw)), origin)
	case UNSIGNED64:
		return entry.PutUint64(subIndex, raw, origin)
	case INTEGER64:
		return entry.PutInt64(subIndex, int64(raw), origin)
	default:
		return ErrTypeMismatch
	}
}

// Phys returns the scaled engineering value of a numeric variable:
// raw*Factor + Offset.
func (entry *Entry) Phys(subIndex uint8) (float64, error) {
	sub, err := entry.SubIndex(subIndex)
	if err != nil {
		return 0, err
	}
	raw, err := sub.rawFloat()
	if err != nil {
		return 0, err
	}
	factor := sub.Factor
	if factor == 0 {
		factor = 1
	}
	return raw*factor + sub.Offset, nil
}

// PutPhys writes a scaled engineering value back as the equivalent raw
// value: raw = round((phys-Offset)/Factor).
func (entry *Entry) PutPhys(subIndex uint8, phys float64, origin bool) error {
	sub, err := entry.SubIndex(subIndex)
	if err != nil {
		return err
	}
	factor := sub.Factor
	if factor == 0 {
		factor = 1
	}
	raw := (phys - sub.Offset) / factor
	return entry.putRaw(subIndex, sub.DataType, raw, origin)
}

// Desc returns the symbolic label associated with the variable's current
// raw value through its value-description table. It returns [ErrNoData]
// if the raw value has no associated label.
func (entry *Entry) Desc(subIndex uint8) (string, error) {
	sub, err := entry.SubIndex(subIndex)
	if err != nil {
		return "", err
	}
	raw, err := sub.rawFloat()
	if err != nil {
		return "", err
	}
	desc, ok := sub.ValueDescriptions[int64(raw)]
	if !ok {
		return "", ErrNoData
	}
	return desc, nil
}

// PutDesc looks up desc in the variable's value-description table and
// writes back the associated raw value. It returns [ErrNoData] if desc
// is not a known label.
func (entry *Entry) PutDesc(subIndex uint8, desc string, origin bool) error {
	sub, err := entry.SubIndex(subIndex)
	if err != nil {
		return err
	}
	for raw, label := range sub.ValueDescriptions {
		if label == desc {
			return entry.putRaw(subIndex, sub.DataType, float64(raw), origin)
		}
	}
	return ErrNoData
}

// Bits returns the bitfield spanning bits i through j inclusive (bit 0 is
// the least significant bit) of the variable's raw integer value.
func (entry *Entry) Bits(subIndex uint8, i, j uint8) (uint64, error) {
	sub, err := entry.SubIndex(subIndex)
	if err != nil {
		return 0, err
	}
	if i > j || j > 63 {
		return 0, ErrDevIncompat
	}
	raw, err := sub.rawUint()
	if err != nil {
		return 0, err
	}
	mask := uint64(1)<<(j-i+1) - 1
	return (raw >> i) & mask, nil
}

// PutBits writes value into the bitfield spanning bits i through j
// inclusive of the variable's raw integer value, leaving the remaining
// bits untouched.
func (entry *Entry) PutBits(subIndex uint8, i, j uint8, value uint64, origin bool) error {
	sub, err := entry.SubIndex(subIndex)
	if err != nil {
		return err
	}
	if i > j || j > 63 {
		return ErrDevIncompat
	}
	raw, err := sub.rawUint()
	if err != nil {
		return err
	}
	width := j - i + 1
	mask := uint64(1)<<width - 1
	raw = (raw &^ (mask << i)) | ((value & mask) << i)
	return entry.putRawUint(subIndex, sub.DataType, raw, origin)
}

// Read exactly len(b) bytes from OD at (index,subIndex)
// origin parameter controls extension usage if any
func (entry *Entry) ReadExactly(subIndex uint8, b []byte, origin bool) error {
	streamer, err := NewStreamer(entry, subIndex, origin)
	if err != nil {
		return err
	}
	if int(streamer.DataLength) != len(b) {
		return ErrTypeMismatch
	}
	_, err = streamer.Read(b)
	return err
}

// Write exactly len(b) bytes to OD at (index,subIndex)
// origin parameter controls extension usage if exists
func (entry *Entry) WriteExactly(subIndex uint8, b []byte, origin bool) error {
	streamer, err := NewStreamer(entry, subIndex, origin)
	if err != nil {
		return err
	}
	if int(streamer.DataLength) != len(b) {
		return ErrTypeMismatch
	}
	_, err = streamer.Write(b)
	return err

}

// Returns last part of function name
func getFunctionName(i interface{}) string {
	fullName := runtime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
	fullNameSplitted := strings.Split(fullName, ".")
	return fullNameSplitted[len(fullNameSplitted)-1]
}
