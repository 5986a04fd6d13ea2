package model

import (
	"fmt"
	"slices"
)

// Vendor names a native model backend.
type Vendor string

// Native vendors.
const (
	VendorOpenAI      Vendor = "OpenAI"
	VendorAnthropic   Vendor = "Anthropic"
	VendorAzure       Vendor = "Azure"
	VendorBedrock     Vendor = "Bedrock"
	VendorVertex      Vendor = "Vertex"
	VendorGenericREST Vendor = "GenericREST"
)

var nativeVendors = []Vendor{
	VendorOpenAI,
	VendorAnthropic,
	VendorAzure,
	VendorBedrock,
	VendorVertex,
	VendorGenericREST,
}

// NativeVendors returns the supported vendor set. The returned slice is a
// copy; the set itself cannot be changed at runtime.
func NativeVendors() []Vendor {
	return slices.Clone(nativeVendors)
}

// IsNativeVendor reports whether v is in NativeVendors.
func IsNativeVendor(v Vendor) bool {
	return slices.Contains(nativeVendors, v)
}

// NativeContract is the base for vendor-specific adapters. It validates the
// vendor at construction and performs no I/O itself: concrete adapters
// embed it and override Capabilities and Generate.
type NativeContract struct {
	UnimplementedAdapter
	vendor Vendor
}

// NewNativeContract fails with ErrUnsupportedVendor unless vendor is one of
// NativeVendors.
func NewNativeContract(vendor Vendor) (*NativeContract, error) {
	if !IsNativeVendor(vendor) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVendor, string(vendor))
	}
	return &NativeContract{
		UnimplementedAdapter: NewUnimplementedAdapter("NativeVendor:" + string(vendor)),
		vendor:               vendor,
	}, nil
}

// Vendor returns the vendor this contract was created for.
func (n *NativeContract) Vendor() Vendor {
	return n.vendor
}
