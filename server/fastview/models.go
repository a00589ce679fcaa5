// fastview builds simple server-side views: a data model is converted to a
// view-model, the view-model is multiplexed to one or more views, and each view
// turns it into element updates that a thin client-side script applies by id.
package fastview

import (
	"html/template"
)

// EleUpdate is an element identifier and a set of operations to apply to its attributes/content.
type EleUpdate struct {
	// The id by which to find the element
	EleId string
	// Op keys are attribute names or 'textContent', values are what they are set to.
	// ('cx','123') sets attribute cx to 123; ('textContent','abc') sets the element's text.
	Ops []Op
}

// Op is a key and value. For example an html attribute and its new value.
type Op struct {
	Key   string
	Value string
}

// ViewComponent is a server-side view: it can add its initial form to a page
// template, and it publishes the element updates that keep that form current.
type ViewComponent interface {
	Updates() <-chan []EleUpdate
	// Parse adds the component's template to the passed parent, inheriting its
	// func-map, and returns the name of the added template.
	Parse(*template.Template) (string, error)
}
