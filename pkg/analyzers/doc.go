// Package analyzers holds the analyzers built into GeoExhibit.
//
// demo_analyzer renders a synthetic single-band raster and a PNG thumbnail
// for every analysis unit and is meant for trying the pipeline end to end
// without real data. simple_example performs no I/O at all and exists to
// exercise the plugin wiring.
package analyzers
