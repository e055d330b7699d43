// Package catalog holds the widget manifests known to the host.
//
// Manifests are discovered on disk by the Loader, one widget per
// directory:
//
//	widgets/
//	  clock/
//	    widget.yaml   # or widget.yml, widget.json, widget.toml
//	    widget.js     # render payload, named by the manifest's entry field
//
// A manifest is immutable once registered. Any number of instances may be
// created from it.
package catalog
