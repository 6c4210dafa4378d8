package telemetry

// CO2Density converts a CO2 concentration in ppm to g/m3 at tempC and
// standard pressure.
func CO2Density(ppm, tempC float64) float64 {
	const (
		molarMass = 44.01    // g/mol
		pressure  = 101325.0 // Pa
		gasConst  = 8.314    // J/(mol K)
	)
	return ppm * molarMass * pressure / (gasConst * (tempC + 273.15)) / 1e6
}

// CO2DensityOf returns the CO2 density for snap, or false if CO2 or the
// exhaust temperature has no good reading.
func CO2DensityOf(snap Snapshot) (float64, bool) {
	co2, t := snap.Get(CO2), snap.Get(ExhaustTemp)
	if !co2.Valid || !t.Valid {
		return 0, false
	}
	return CO2Density(co2.Value, t.Value), true
}
