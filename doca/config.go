package doca

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SaveConfig writes an export-descriptor handoff to disk: the raw
// descriptor bytes to descPath and the local buffer's address and length as
// two decimal text lines to infoPath. The peer loads both with LoadConfig
// and builds a remote map and buffer from them.
func SaveConfig(desc []byte, local RawPointer, descPath, infoPath string) error {
	if len(desc) == 0 || len(desc) > MaxExportDescLen {
		return newErrorf(ErrorInvalidValue, "export descriptor length %d out of range (1..%d)", len(desc), MaxExportDescLen)
	}
	if err := os.WriteFile(descPath, desc, 0o644); err != nil {
		return newErrorf(ErrorIOFailed, "writing export descriptor to %s: %v", descPath, err)
	}
	info := fmt.Sprintf("%d\n%d\n", uint64(local.Addr()), local.Len)
	if err := os.WriteFile(infoPath, []byte(info), 0o644); err != nil {
		return newErrorf(ErrorIOFailed, "writing buffer info to %s: %v", infoPath, err)
	}
	return nil
}

// LoadConfig reads a handoff written by SaveConfig on the other side and
// returns the descriptor bytes and the remote buffer's address range.
// I/O failures carry ErrorIOFailed; malformed numeric fields and oversized
// descriptors carry ErrorInvalidValue.
func LoadConfig(descPath, infoPath string) (desc []byte, remote RawPointer, err error) {
	desc, err = os.ReadFile(descPath)
	if err != nil {
		return nil, RawPointer{}, newErrorf(ErrorIOFailed, "reading export descriptor from %s: %v", descPath, err)
	}
	if len(desc) == 0 || len(desc) > MaxExportDescLen {
		return nil, RawPointer{}, newErrorf(ErrorInvalidValue, "export descriptor in %s is %d bytes, out of range (1..%d)", descPath, len(desc), MaxExportDescLen)
	}

	f, err := os.Open(infoPath)
	if err != nil {
		return nil, RawPointer{}, newErrorf(ErrorIOFailed, "reading buffer info from %s: %v", infoPath, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	addr, err := scanInfoLine(scanner, infoPath, "address")
	if err != nil {
		return nil, RawPointer{}, err
	}
	length, err := scanInfoLine(scanner, infoPath, "length")
	if err != nil {
		return nil, RawPointer{}, err
	}
	return desc, RawPointerAt(uintptr(addr), int(length)), nil
}

// scanInfoLine reads the next line of the info file as an unsigned decimal.
func scanInfoLine(scanner *bufio.Scanner, path, field string) (uint64, error) {
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return 0, newErrorf(ErrorIOFailed, "reading %s line from %s: %v", field, path, err)
		}
		return 0, newErrorf(ErrorInvalidValue, "buffer info file %s is missing the %s line", path, field)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(scanner.Text()), 10, 64)
	if err != nil {
		return 0, newErrorf(ErrorInvalidValue, "malformed %s in %s: %v", field, path, err)
	}
	return v, nil
}
