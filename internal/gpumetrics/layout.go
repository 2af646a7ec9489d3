// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package gpumetrics

// field is one member of a gpu_metrics_vX_Y struct. Members are laid out
// with C natural alignment after the 4 byte header.
type field struct {
	name  Field
	size  int // bytes per element: 1, 2, 4 or 8
	count int // > 1 for arrays
}

func u8(name Field) field              { return field{name, 1, 1} }
func u16(name Field) field             { return field{name, 2, 1} }
func u32(name Field) field             { return field{name, 4, 1} }
func u64(name Field) field             { return field{name, 8, 1} }
func u16s(name Field, count int) field { return field{name, 2, count} }
func u64s(name Field, count int) field { return field{name, 8, count} }

func pad16(count int) field { return field{"", 2, count} }

const (
	numHBM      = 4
	numXGMI     = 8
	numVCN      = 4
	maxGFXClks  = 8
	maxClks     = 4
	numCoresV2  = 8
	numL3V2     = 2
	numCoresV3  = 16
	numIPUColV3 = 8
)

var (
	v1Clocks = []field{
		u16(AverageGFXClk), u16("average_socclk_frequency"), u16("average_uclk_frequency"),
		u16("average_vclk0_frequency"), u16("average_dclk0_frequency"),
		u16("average_vclk1_frequency"), u16("average_dclk1_frequency"),
		u16(CurrentGFXClk), u16("current_socclk"), u16("current_uclk"),
		u16("current_vclk0"), u16("current_dclk0"), u16("current_vclk1"), u16("current_dclk1"),
	}
	v1Temps = []field{
		u16(TemperatureEdge), u16(TemperatureHotspot), u16(TemperatureMem),
		u16("temperature_vrgfx"), u16("temperature_vrsoc"), u16("temperature_vrmem"),
	}
)

func concat(parts ...[]field) []field {
	var out []field
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

var v1_0 = concat(
	[]field{u64(SystemClockCounter)},
	v1Temps,
	[]field{u16(AverageGFXActivity), u16(AverageUMCActivity), u16(AverageMMActivity)},
	[]field{u16(AverageSocketPower), u32(EnergyAccumulator)},
	v1Clocks,
	[]field{u32(ThrottleStatus), u16(CurrentFanSpeed), u8(PCIeLinkWidth), u8(PCIeLinkSpeed)},
)

var v1_1 = concat(
	v1Temps,
	[]field{u16(AverageGFXActivity), u16(AverageUMCActivity), u16(AverageMMActivity)},
	[]field{u16(AverageSocketPower), u64(EnergyAccumulator)},
	[]field{u64(SystemClockCounter)},
	v1Clocks,
	[]field{u32(ThrottleStatus), u16(CurrentFanSpeed), u16(PCIeLinkWidth), u16(PCIeLinkSpeed), pad16(1)},
	[]field{u32("gfx_activity_acc"), u32("mem_activity_acc"), u16s(TemperatureHBM, numHBM)},
)

var v1_2 = concat(v1_1, []field{u64("firmware_timestamp")})

var v1_3 = concat(v1_2,
	[]field{u16(VoltageSoC), u16(VoltageGFX), u16(VoltageMem), pad16(1), u64(IndepThrottleStatus)},
)

var v1_4 = []field{
	u16(TemperatureHotspot), u16(TemperatureMem), u16("temperature_vrsoc"),
	u16("curr_socket_power"),
	u16(AverageGFXActivity), u16(AverageUMCActivity), u16s(VCNActivity, numVCN),
	u64(EnergyAccumulator), u64(SystemClockCounter),
	u32(ThrottleStatus), u32("gfxclk_lock_status"),
	u16(PCIeLinkWidth), u16(PCIeLinkSpeed), u16("xgmi_link_width"), u16("xgmi_link_speed"),
	u32("gfx_activity_acc"), u32("mem_activity_acc"),
	u64("pcie_bandwidth_acc"), u64("pcie_bandwidth_inst"),
	u64("pcie_l0_to_recov_count_acc"), u64("pcie_replay_count_acc"), u64("pcie_replay_rover_count_acc"),
	u64s("xgmi_read_data_acc", numXGMI), u64s("xgmi_write_data_acc", numXGMI),
	u64("firmware_timestamp"),
	u16s(CurrentGFXClk, maxGFXClks), u16s("current_socclk", maxClks),
	u16s("current_vclk0", maxClks), u16s("current_dclk0", maxClks),
	u16("current_uclk"), pad16(1),
}

var v2Base = []field{
	u64(SystemClockCounter),
	u16(TemperatureGFX), u16(TemperatureSoC),
	u16s(TemperatureCore, numCoresV2), u16s(TemperatureL3, numL3V2),
	u16(AverageGFXActivity), u16(AverageMMActivity),
	u16(AverageSocketPower), u16("average_cpu_power"), u16("average_soc_power"), u16("average_gfx_power"),
	u16s("average_core_power", numCoresV2),
	u16(AverageGFXClk), u16("average_socclk_frequency"), u16("average_uclk_frequency"),
	u16("average_fclk_frequency"), u16("average_vclk_frequency"), u16("average_dclk_frequency"),
	u16(CurrentGFXClk), u16("current_socclk"), u16("current_uclk"),
	u16("current_fclk"), u16("current_vclk"), u16("current_dclk"),
	u16s("current_coreclk", numCoresV2), u16s("current_l3clk", numL3V2),
	u32(ThrottleStatus),
	u16("fan_pwm"),
}

var v2_0 = concat(v2Base, []field{pad16(1)})

var v2_1 = concat(v2Base, []field{pad16(3)})

var v2_2 = concat(v2_1, []field{u64(IndepThrottleStatus)})

var v2_3 = concat(v2_2, []field{
	u16("average_temperature_gfx"), u16("average_temperature_soc"),
	u16s("average_temperature_core", numCoresV2), u16s("average_temperature_l3", numL3V2),
})

var v2_4 = concat(v2_3, []field{
	u16("average_cpu_voltage"), u16("average_soc_voltage"), u16("average_gfx_voltage"),
	u16("average_cpu_current"), u16("average_soc_current"), u16("average_gfx_current"),
})

var v3_0 = []field{
	u16(TemperatureGFX), u16(TemperatureSoC),
	u16s(TemperatureCore, numCoresV3), u16("temperature_skin"),
	u16(AverageGFXActivity), u16(AverageVCNActivity),
	u16s("average_ipu_activity", numIPUColV3), u16s("average_core_c0_activity", numCoresV3),
	u16("average_dram_reads"), u16("average_dram_writes"),
	u16("average_ipu_reads"), u16("average_ipu_writes"),
	u64(SystemClockCounter),
	u32(AverageSocketPower), u16("average_ipu_power"), u32("average_apu_power"),
	u32("average_gfx_power"), u32("average_dgpu_power"), u32("average_all_core_power"),
	u16s("average_core_power", numCoresV3),
	u16("average_sys_power"), u16("stapm_power_limit"), u16("current_stapm_power_limit"),
	u16(AverageGFXClk), u16("average_socclk_frequency"), u16("average_vpeclk_frequency"),
	u16("average_ipuclk_frequency"), u16("average_fclk_frequency"), u16("average_vclk_frequency"),
	u16("average_uclk_frequency"), u16("average_mpipu_frequency"),
	u16s("current_coreclk", numCoresV3),
	u16("current_core_maxfreq"), u16("current_gfx_maxfreq"),
	u32("throttle_residency_prochot"), u32("throttle_residency_spl"),
	u32("throttle_residency_fppt"), u32("throttle_residency_sppt"),
	u32("throttle_residency_thm_core"), u32("throttle_residency_thm_gfx"),
	u32("throttle_residency_thm_soc"),
	u32("time_filter_alphavalue"),
}

var layouts = map[Revision][]field{
	{1, 0}: v1_0,
	{1, 1}: v1_1,
	{1, 2}: v1_2,
	{1, 3}: v1_3,
	{1, 4}: v1_4,
	{2, 0}: v2_0,
	{2, 1}: v2_1,
	{2, 2}: v2_2,
	{2, 3}: v2_3,
	{2, 4}: v2_4,
	{3, 0}: v3_0,
}
