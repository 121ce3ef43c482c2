// SPDX-License-Identifier: MPL-2.0

package wps

import (
	"encoding/xml"
	"strconv"
	"time"

	"github.com/c3s-magic/magicwps/internal/catalog"
	"github.com/c3s-magic/magicwps/internal/jobstore"

	"golang.org/x/exp/slices"
)

const (
	wpsVersion = "1.0.0"
	nsWPS      = "http://www.opengis.net/wps/1.0.0"
	nsOWS      = "http://www.opengis.net/ows/1.1"
	nsXLink    = "http://www.w3.org/1999/xlink"
	nsXSI      = "http://www.w3.org/2001/XMLSchema-instance"

	xmlSchemaTypes = "http://www.w3.org/TR/xmlschema-2/#"

	serviceTitle    = "MAGIC WPS"
	serviceAbstract = "Climate diagnostics of the Copernicus C3S MAGIC project, computed with ESMValTool."
)

// Elements carry their namespace prefix in the tag. The namespaces are
// declared once on each document root.
type (
	namespaces struct {
		WPS   string `xml:"xmlns:wps,attr"`
		OWS   string `xml:"xmlns:ows,attr"`
		XLink string `xml:"xmlns:xlink,attr"`
		XSI   string `xml:"xmlns:xsi,attr"`
	}

	capabilitiesDoc struct {
		XMLName xml.Name `xml:"wps:Capabilities"`
		namespaces
		Service   string         `xml:"service,attr"`
		Version   string         `xml:"version,attr"`
		Lang      string         `xml:"xml:lang,attr"`
		Identity  serviceIdent   `xml:"ows:ServiceIdentification"`
		Metadata  operationsMeta `xml:"ows:OperationsMetadata"`
		Offerings []processBrief `xml:"wps:ProcessOfferings>wps:Process"`
		Languages languages      `xml:"wps:Languages"`
	}

	serviceIdent struct {
		Title       string `xml:"ows:Title"`
		Abstract    string `xml:"ows:Abstract"`
		ServiceType string `xml:"ows:ServiceType"`
		TypeVersion string `xml:"ows:ServiceTypeVersion"`
	}

	operationsMeta struct {
		Operations []operation `xml:"ows:Operation"`
	}

	operation struct {
		Name string `xml:"name,attr"`
		Get  link   `xml:"ows:DCP>ows:HTTP>ows:Get"`
	}

	link struct {
		Href string `xml:"xlink:href,attr"`
	}

	languages struct {
		Default   string `xml:"wps:Default>ows:Language"`
		Supported string `xml:"wps:Supported>ows:Language"`
	}

	processBrief struct {
		Version    string `xml:"wps:processVersion,attr,omitempty"`
		Identifier string `xml:"ows:Identifier"`
		Title      string `xml:"ows:Title"`
		Abstract   string `xml:"ows:Abstract,omitempty"`
	}

	descriptionsDoc struct {
		XMLName xml.Name `xml:"wps:ProcessDescriptions"`
		namespaces
		Service   string               `xml:"service,attr"`
		Version   string               `xml:"version,attr"`
		Lang      string               `xml:"xml:lang,attr"`
		Processes []processDescription `xml:"ProcessDescription"`
	}

	processDescription struct {
		Version         string         `xml:"wps:processVersion,attr,omitempty"`
		StoreSupported  bool           `xml:"storeSupported,attr"`
		StatusSupported bool           `xml:"statusSupported,attr"`
		Identifier      string         `xml:"ows:Identifier"`
		Title           string         `xml:"ows:Title"`
		Abstract        string         `xml:"ows:Abstract,omitempty"`
		Metadata        []metadataLink `xml:"ows:Metadata"`
		Inputs          []inputDesc    `xml:"DataInputs>Input"`
		Outputs         []outputDesc   `xml:"ProcessOutputs>Output"`
	}

	metadataLink struct {
		Title string `xml:"xlink:title,attr"`
		Href  string `xml:"xlink:href,attr,omitempty"`
		Role  string `xml:"xlink:role,attr,omitempty"`
	}

	inputDesc struct {
		MinOccurs  int         `xml:"minOccurs,attr"`
		MaxOccurs  int         `xml:"maxOccurs,attr"`
		Identifier string      `xml:"ows:Identifier"`
		Title      string      `xml:"ows:Title"`
		Abstract   string      `xml:"ows:Abstract,omitempty"`
		Literal    literalDesc `xml:"LiteralData"`
	}

	literalDesc struct {
		DataType dataType       `xml:"ows:DataType"`
		Allowed  *allowedValues `xml:"ows:AllowedValues"`
		Any      *struct{}      `xml:"ows:AnyValue"`
		Default  string         `xml:"DefaultValue,omitempty"`
	}

	dataType struct {
		Reference string `xml:"ows:reference,attr"`
		Name      string `xml:",chardata"`
	}

	allowedValues struct {
		Values []string `xml:"ows:Value"`
		Range  *valueRange
	}

	valueRange struct {
		XMLName xml.Name `xml:"ows:Range"`
		Min     string   `xml:"ows:MinimumValue,omitempty"`
		Max     string   `xml:"ows:MaximumValue,omitempty"`
	}

	outputDesc struct {
		Identifier string         `xml:"ows:Identifier"`
		Title      string         `xml:"ows:Title"`
		Abstract   string         `xml:"ows:Abstract,omitempty"`
		Complex    *complexOutput `xml:"ComplexOutput"`
		Literal    *literalOutput `xml:"LiteralOutput"`
	}

	complexOutput struct {
		Default   string `xml:"Default>Format>MimeType"`
		Supported string `xml:"Supported>Format>MimeType"`
	}

	literalOutput struct {
		DataType dataType `xml:"ows:DataType"`
	}

	executeDoc struct {
		XMLName xml.Name `xml:"wps:ExecuteResponse"`
		namespaces
		Service         string        `xml:"service,attr"`
		Version         string        `xml:"version,attr"`
		Lang            string        `xml:"xml:lang,attr"`
		ServiceInstance string        `xml:"serviceInstance,attr"`
		StatusLocation  string        `xml:"statusLocation,attr,omitempty"`
		Process         processBrief  `xml:"wps:Process"`
		Status          statusElem    `xml:"wps:Status"`
		Outputs         []outputValue `xml:"wps:ProcessOutputs>wps:Output"`
	}

	statusElem struct {
		CreationTime string          `xml:"creationTime,attr"`
		Accepted     *string         `xml:"wps:ProcessAccepted"`
		Started      *startedElem    `xml:"wps:ProcessStarted"`
		Succeeded    *string         `xml:"wps:ProcessSucceeded"`
		Failed       *exceptionsElem `xml:"wps:ProcessFailed>wps:ExceptionReport"`
	}

	startedElem struct {
		Percent int    `xml:"percentCompleted,attr"`
		Message string `xml:",chardata"`
	}

	exceptionsElem struct {
		Exceptions []exceptionElem `xml:"ows:Exception"`
	}

	exceptionElem struct {
		Code    string `xml:"exceptionCode,attr"`
		Locator string `xml:"locator,attr,omitempty"`
		Text    string `xml:"ows:ExceptionText"`
	}

	outputValue struct {
		Identifier string        `xml:"ows:Identifier"`
		Title      string        `xml:"ows:Title"`
		Abstract   string        `xml:"ows:Abstract,omitempty"`
		Reference  *referenceOut `xml:"wps:Reference"`
		Data       *dataOut      `xml:"wps:Data"`
	}

	referenceOut struct {
		Href     string `xml:"href,attr"`
		MimeType string `xml:"mimeType,attr,omitempty"`
	}

	dataOut struct {
		Literal *string     `xml:"wps:LiteralData"`
		Complex *complexOut `xml:"wps:ComplexData"`
	}

	complexOut struct {
		MimeType string `xml:"mimeType,attr"`
		Text     string `xml:",cdata"`
	}

	exceptionReport struct {
		XMLName xml.Name `xml:"ows:ExceptionReport"`
		OWS     string   `xml:"xmlns:ows,attr"`
		Version string   `xml:"version,attr"`
		Lang    string   `xml:"xml:lang,attr"`
		exceptionsElem
	}
)

func defaultNamespaces() namespaces {
	return namespaces{WPS: nsWPS, OWS: nsOWS, XLink: nsXLink, XSI: nsXSI}
}

func brief(p *catalog.Process) processBrief {
	return processBrief{
		Version:    p.Version,
		Identifier: p.Identifier,
		Title:      p.Title,
		Abstract:   p.Abstract,
	}
}

func capabilities(c *catalog.Catalog, wpsURL string) capabilitiesDoc {
	doc := capabilitiesDoc{
		namespaces: defaultNamespaces(),
		Service:    "WPS",
		Version:    wpsVersion,
		Lang:       "en-US",
		Identity: serviceIdent{
			Title:       serviceTitle,
			Abstract:    serviceAbstract,
			ServiceType: "WPS",
			TypeVersion: wpsVersion,
		},
		Languages: languages{Default: "en-US", Supported: "en-US"},
	}
	for _, name := range []string{opGetCapabilities, opDescribeProcess, opExecute} {
		doc.Metadata.Operations = append(doc.Metadata.Operations, operation{Name: name, Get: link{Href: wpsURL}})
	}
	for _, p := range c.Processes() {
		doc.Offerings = append(doc.Offerings, brief(p))
	}
	return doc
}

func descriptions(ps []*catalog.Process, allowed func(*catalog.Process, catalog.Input) []string) descriptionsDoc {
	doc := descriptionsDoc{
		namespaces: defaultNamespaces(),
		Service:    "WPS",
		Version:    wpsVersion,
		Lang:       "en-US",
	}
	for _, p := range ps {
		doc.Processes = append(doc.Processes, describe(p, allowed))
	}
	return doc
}

func describe(p *catalog.Process, allowed func(*catalog.Process, catalog.Input) []string) processDescription {
	d := processDescription{
		Version:         p.Version,
		StoreSupported:  true,
		StatusSupported: true,
		Identifier:      p.Identifier,
		Title:           p.Title,
		Abstract:        p.Abstract,
	}
	for _, l := range p.Metadata {
		d.Metadata = append(d.Metadata, metadataLink{Title: l.Title, Href: l.Href, Role: l.Role})
	}
	for _, in := range p.Inputs() {
		d.Inputs = append(d.Inputs, inputDesc{
			MinOccurs:  in.MinOccurs,
			MaxOccurs:  in.MaxOccurs,
			Identifier: in.Identifier,
			Title:      in.Title,
			Abstract:   in.Abstract,
			Literal:    literal(in, allowed(p, in)),
		})
	}
	for _, o := range p.Outputs() {
		od := outputDesc{Identifier: o.Identifier, Title: o.Title, Abstract: o.Abstract}
		if o.Complex() {
			od.Complex = &complexOutput{Default: o.MimeType(), Supported: o.MimeType()}
		} else {
			od.Literal = &literalOutput{DataType: typeOf(catalog.LiteralType(o.Format))}
		}
		d.Outputs = append(d.Outputs, od)
	}
	return d
}

func literal(in catalog.Input, allowed []string) literalDesc {
	l := literalDesc{DataType: typeOf(in.Type), Default: in.Default()}
	switch {
	case allowed != nil:
		l.Allowed = &allowedValues{Values: allowed}
		if !slices.Contains(allowed, l.Default) {
			l.Default = ""
		}
	case in.Min != nil || in.Max != nil:
		r := &valueRange{}
		if in.Min != nil {
			r.Min = strconv.FormatFloat(*in.Min, 'f', -1, 64)
		}
		if in.Max != nil {
			r.Max = strconv.FormatFloat(*in.Max, 'f', -1, 64)
		}
		l.Allowed = &allowedValues{Range: r}
	default:
		l.Any = &struct{}{}
	}
	return l
}

func typeOf(t catalog.LiteralType) dataType {
	if t == "" {
		t = catalog.TypeString
	}
	return dataType{Reference: xmlSchemaTypes + string(t), Name: string(t)}
}

// executeResponse renders the stored state of j.
func executeResponse(p *catalog.Process, j jobstore.Job, wpsURL, statusURL string) executeDoc {
	doc := executeDoc{
		namespaces:      defaultNamespaces(),
		Service:         "WPS",
		Version:         wpsVersion,
		Lang:            "en-US",
		ServiceInstance: wpsURL + "?service=WPS&request=GetCapabilities",
		StatusLocation:  statusURL,
		Process:         brief(p),
		Status:          status(j),
	}
	for _, o := range j.Outputs {
		ov := outputValue{Identifier: o.Identifier, Title: o.Title, Abstract: o.Abstract}
		switch {
		case o.Href != "":
			ov.Reference = &referenceOut{Href: o.Href, MimeType: o.MimeType}
		case o.Complex:
			ov.Data = &dataOut{Complex: &complexOut{MimeType: o.MimeType, Text: o.Data}}
		default:
			data := o.Data
			ov.Data = &dataOut{Literal: &data}
		}
		doc.Outputs = append(doc.Outputs, ov)
	}
	return doc
}

func status(j jobstore.Job) statusElem {
	at := j.Started
	if !j.Finished.IsZero() {
		at = j.Finished
	}
	s := statusElem{CreationTime: at.UTC().Format(time.RFC3339)}
	msg := j.Message
	switch j.Status {
	case jobstore.StatusAccepted:
		if msg == "" {
			msg = "Process " + j.Identifier + " accepted"
		}
		s.Accepted = &msg
	case jobstore.StatusStarted:
		s.Started = &startedElem{Percent: j.Percent, Message: msg}
	case jobstore.StatusSucceeded:
		s.Succeeded = &msg
	default:
		s.Failed = &exceptionsElem{Exceptions: []exceptionElem{{Code: CodeNoApplicableCode, Text: msg}}}
	}
	return s
}
