// hardware_device_name.go defines the HardwareDeviceName type.

package types

// HardwareDeviceName is the name/path of a specific accelerator device,
// e.g. "/dev/dri/renderD128" for VAAPI.
type HardwareDeviceName string
