//go:build linux

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package transportstats

import (
	"fmt"

	"github.com/docker/docker/pkg/parsers/kernel"
)

var linuxKernelVersion *kernel.VersionInfo
var sizeOfRawTCPInfo int

// versionedStructSize records, for a kernel version that grew tcp_info,
// how many bytes of it that kernel and later will actually populate.
type versionedStructSize struct {
	Version kernel.VersionInfo
	Size    int
	Flag    *bool
}

var (
	kernelVersionIsAtLeast_2_6_2 = false
	kernelVersionIsAtLeast_4_1   = false
	kernelVersionIsAtLeast_4_6   = false
)

// tcpInfoSizes is trimmed to the checkpoints this package's ChannelHealth
// actually reads (state/rtt/cwnd/loss at 2.6.2, bytes_acked/received at
// 4.1, min_rtt at 4.6); a kernel newer than 4.6 still matches the 4.6 row,
// which is a safe underestimate of how much tcp_info the kernel would
// actually fill in.
var tcpInfoSizes = []versionedStructSize{
	{Version: kernel.VersionInfo{Kernel: 2, Major: 6, Minor: 2}, Size: 104, Flag: &kernelVersionIsAtLeast_2_6_2},
	{Version: kernel.VersionInfo{Kernel: 4, Major: 1, Minor: 0}, Size: 136, Flag: &kernelVersionIsAtLeast_4_1},
	{Version: kernel.VersionInfo{Kernel: 4, Major: 6, Minor: 0}, Size: 160, Flag: &kernelVersionIsAtLeast_4_6},
}

func init() {
	var err error
	if linuxKernelVersion, err = kernel.GetKernelVersion(); err != nil {
		panic(fmt.Errorf("error getting kernel version: %s", err))
	}

	adaptToKernelVersion()
}

func adaptToKernelVersion() {
	for i := len(tcpInfoSizes) - 1; i >= 0; i-- {
		if kernel.CompareKernelVersion(*linuxKernelVersion, tcpInfoSizes[i].Version) >= 0 {
			sizeOfRawTCPInfo = tcpInfoSizes[i].Size

			for j := i; j >= 0; j-- {
				*tcpInfoSizes[j].Flag = true
			}

			return
		}
		*tcpInfoSizes[i].Flag = false // needed if tests manually override linuxKernelVersion
	}
}
