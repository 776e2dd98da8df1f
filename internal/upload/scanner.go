package upload

import (
	"bytes"
	"strings"
)

// textScanWindow bounds the textual scan to the leading bytes. Active-content
// markers that matter for browser interpretation sit at the front of a file;
// scanning whole multi-megabyte images would cost latency for no signal.
const textScanWindow = 2048

// textMarker flags embedded active content in the leading bytes.
type textMarker struct {
	needle     string
	descriptor string
}

// textMarkers are matched case-insensitively against the scan window.
var textMarkers = []textMarker{
	{"<script", "script tag"},
	{"javascript:", "javascript URI"},
	{"vbscript:", "vbscript URI"},
	{"onerror=", "inline event handler (onerror)"},
	{"onload=", "inline event handler (onload)"},
	{"onclick=", "inline event handler (onclick)"},
	{"onmouseover=", "inline event handler (onmouseover)"},
	{"data:text/html", "HTML data URI"},
	{"%3cscript", "URL-encoded script tag"},
	{"<iframe", "iframe tag"},
	{"<object", "object tag"},
	{"<embed", "embed tag"},
}

// binarySignature is an exact-match executable magic number.
type binarySignature struct {
	magic      []byte
	descriptor string
}

var executableSignatures = []binarySignature{
	{[]byte{0x4D, 0x5A}, "Windows executable (PE/MZ)"},
	{[]byte{0x7F, 0x45, 0x4C, 0x46}, "Linux executable (ELF)"},
	{[]byte{0xFE, 0xED, 0xFA, 0xCE}, "Mach-O executable (32-bit)"},
	{[]byte{0xFE, 0xED, 0xFA, 0xCF}, "Mach-O executable (64-bit)"},
	{[]byte{0xCE, 0xFA, 0xED, 0xFE}, "Mach-O executable (32-bit, little-endian)"},
	{[]byte{0xCF, 0xFA, 0xED, 0xFE}, "Mach-O executable (64-bit, little-endian)"},
	{[]byte{0xCA, 0xFE, 0xBA, 0xBE}, "Mach-O universal binary"},
}

// Report is the outcome of a content scan: an ordered list of human-readable
// descriptors, one per matched pattern or signature.
type Report struct {
	Threats []string
}

// Safe reports whether no check triggered.
func (r Report) Safe() bool {
	return len(r.Threats) == 0
}

// Scan runs both content checks over the buffer and unions the results: a
// textual marker scan over the leading bytes and an executable magic-number
// check. Both always run; a buffer can match in both categories.
//
// The scan is heuristic, not exhaustive: obfuscated or deeply embedded
// payloads can pass. It is a cheap first line, not an antivirus.
func Scan(data []byte) Report {
	var report Report

	window := data
	if len(window) > textScanWindow {
		window = window[:textScanWindow]
	}
	lowered := strings.ToLower(string(window))

	for _, m := range textMarkers {
		if strings.Contains(lowered, m.needle) {
			report.Threats = append(report.Threats, m.descriptor)
		}
	}
	// Null bytes inside textual content signal injection attempts. Binary
	// image data is full of legitimate null bytes, so the check only applies
	// when the window otherwise reads as text.
	if bytes.IndexByte(window, 0x00) != -1 && looksTextual(window) {
		report.Threats = append(report.Threats, "embedded null byte")
	}

	for _, sig := range executableSignatures {
		if bytes.HasPrefix(data, sig.magic) {
			report.Threats = append(report.Threats, sig.descriptor)
			break
		}
	}

	return report
}

// looksTextual reports whether the window is predominantly printable
// characters. Whitespace and printable ASCII count as text.
func looksTextual(window []byte) bool {
	if len(window) == 0 {
		return false
	}

	printable := 0
	for _, b := range window {
		if b == '\t' || b == '\n' || b == '\r' || (b >= 0x20 && b < 0x7F) {
			printable++
		}
	}
	return float64(printable)/float64(len(window)) > 0.9
}
