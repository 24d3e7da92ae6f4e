package bim

import (
	"context"
	"errors"
	"testing"

	"github.com/tsawler/aedile/entity"
	"github.com/tsawler/aedile/format"
)

// modelIFC4 is a small but complete model: one storey with one space
// carrying quantities, a common property set and a zone, one ventilation
// system with a fan that sits in the space, and one electrical system
// that is not a building-services plant.
const modelIFC4 = `ISO-10303-21;
HEADER;
FILE_DESCRIPTION((''),'2;1');
FILE_NAME('gebaeude.ifc','2024-05-01T10:00:00',('Planerin'),('Plan AG'),'','','');
FILE_SCHEMA(('IFC4'));
ENDSEC;
DATA;
#10=IFCBUILDINGSTOREY('1hOSvn6df7F8i7GcBWlRGQ',$,'EG',$,$,$,$,$,.ELEMENT.,0.);
#20=IFCSPACE('0Bsl6JQyLBxv9PJvhKyCz9',$,'1.01',$,$,$,$,'Büro West',.ELEMENT.,.INTERNAL.,$);
#21=IFCRELAGGREGATES('2aGgB2c8P5jQhV2d4tRnW1',$,$,$,#10,(#20));
#30=IFCELEMENTQUANTITY('3qQkB2c8P5jQhV2d4tRnW2',$,'BaseQuantities',$,$,(#31,#32));
#31=IFCQUANTITYAREA('NetFloorArea',$,$,24.5,$);
#32=IFCQUANTITYVOLUME('NetVolume',$,$,73.5,$);
#33=IFCRELDEFINESBYPROPERTIES('3rRkB2c8P5jQhV2d4tRnW3',$,$,$,(#20),#30);
#34=IFCPROPERTYSET('3pPkB2c8P5jQhV2d4tRnW4',$,'Pset_SpaceCommon',$,(#35));
#35=IFCPROPERTYSINGLEVALUE('Usage',$,IFCLABEL('Büro'),$);
#36=IFCRELDEFINESBYPROPERTIES('3sSkB2c8P5jQhV2d4tRnW5',$,$,$,(#20),#34);
#40=IFCZONE('2KkK7Bc8P5jQhV2d4tRnWm',$,'Zone Nord',$,$);
#41=IFCRELASSIGNSTOGROUP('2zZkB2c8P5jQhV2d4tRnW6',$,$,$,(#20),$,#40);
#50=IFCDISTRIBUTIONSYSTEM('1uT4haSkXDAeHGoAloAnWS',$,'LÜA 1',$,$,'Lüftungsanlage Büros',.VENTILATION.);
#60=IFCFAN('3Zu5Bx0d56je9Bl4eMrGdj',$,'VENT-01',$,'Ventilator',$,$,$,.CENTRIFUGALFORWARDCURVED.);
#61=IFCRELCONTAINEDINSPATIALSTRUCTURE('0cCkB2c8P5jQhV2d4tRnW7',$,$,$,(#60),#20);
#62=IFCRELASSIGNSTOGROUP('0gGkB2c8P5jQhV2d4tRnW8',$,$,$,(#60),$,#50);
#63=IFCPROPERTYSET('0pPkB2c8P5jQhV2d4tRnW9',$,'Pset_MechanicalEquipment',$,(#64));
#64=IFCPROPERTYSINGLEVALUE('Power',$,IFCPOWERMEASURE(2.2),$);
#65=IFCRELDEFINESBYPROPERTIES('0rRkB2c8P5jQhV2d4tRnWa',$,$,$,(#60),#63);
#70=IFCRELSERVICESBUILDINGS('0sSkB2c8P5jQhV2d4tRnWb',$,$,$,#50,(#20));
#80=IFCSYSTEM('0eEkB2c8P5jQhV2d4tRnWc',$,'Elektro Hauptverteilung',$,$);
ENDSEC;
END-ISO-10303-21;
`

const (
	spaceID  = "raum_0bsl6jqylbxv9pjvhkycz9"
	plantID  = "anlage_1ut4haskxdaehgoaloanws"
	deviceID = "geraet_3zu5bx0d56je9bl4emrgdj"
)

func modelDoc(name, data string) *entity.Document {
	return &entity.Document{ID: "d1", Name: name, Data: []byte(data)}
}

func hasWarning(warnings []entity.Warning, code string) bool {
	for _, w := range warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestExtractModel(t *testing.T) {
	ext, err := New(nil).Extract(context.Background(), modelDoc("gebaeude.ifc", modelIFC4))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if ext.Metadata.Format != "IFC" || ext.Metadata.Schema != "IFC4" {
		t.Errorf("Metadata = %q/%q, want IFC/IFC4", ext.Metadata.Format, ext.Metadata.Schema)
	}
	if len(ext.Spaces) != 1 || len(ext.Plants) != 1 || len(ext.Devices) != 1 {
		t.Fatalf("entity counts = %d/%d/%d, want 1/1/1",
			len(ext.Spaces), len(ext.Plants), len(ext.Devices))
	}

	s := ext.Spaces[0]
	if s.ID != spaceID {
		t.Errorf("space ID = %q, want %q", s.ID, spaceID)
	}
	if s.GlobalID != "0Bsl6JQyLBxv9PJvhKyCz9" {
		t.Errorf("space GlobalID = %q", s.GlobalID)
	}
	if got, _ := s.Name.Get(); got != "Büro West" {
		t.Errorf("space Name = %q, want %q", got, "Büro West")
	}
	if got, _ := s.Number.Get(); got != "1.01" {
		t.Errorf("space Number = %q, want %q", got, "1.01")
	}
	if got, _ := s.AreaM2.Get(); got != 24.5 {
		t.Errorf("space AreaM2 = %v, want 24.5", got)
	}
	if got, _ := s.VolumeM3.Get(); got != 73.5 {
		t.Errorf("space VolumeM3 = %v, want 73.5", got)
	}
	if got, _ := s.Usage.Get(); got != "Büro" {
		t.Errorf("space Usage = %q, want %q", got, "Büro")
	}
	if got, _ := s.Floor.Get(); got != "EG" {
		t.Errorf("space Floor = %q, want %q", got, "EG")
	}
	if got, _ := s.Zone.Get(); got != "Zone Nord" {
		t.Errorf("space Zone = %q, want %q", got, "Zone Nord")
	}
	if s.HeightM.IsSet() {
		t.Error("space HeightM must stay unset")
	}
	if !containsString(s.Plants, plantID) {
		t.Errorf("space Plants = %v, want %q listed", s.Plants, plantID)
	}
	if !containsString(s.Devices, deviceID) {
		t.Errorf("space Devices = %v, want %q listed", s.Devices, deviceID)
	}
	src := s.Sources[0]
	if src.Kind != entity.SourceModel || src.Object != "IfcSpace" || src.GlobalID != s.GlobalID {
		t.Errorf("space source = %+v", src)
	}
	if !containsString(src.Fields, "flaeche_m2") || !containsString(src.Fields, "geschoss") {
		t.Errorf("space source fields = %v", src.Fields)
	}

	p := ext.Plants[0]
	if p.ID != plantID {
		t.Errorf("plant ID = %q, want %q", p.ID, plantID)
	}
	if got, _ := p.Name.Get(); got != "LÜA 1" {
		t.Errorf("plant Name = %q, want %q", got, "LÜA 1")
	}
	if got, _ := p.Kind.Get(); got != "VENTILATION" {
		t.Errorf("plant Kind = %q, want VENTILATION", got)
	}
	if !containsString(p.Spaces, spaceID) {
		t.Errorf("plant Spaces = %v, want %q listed", p.Spaces, spaceID)
	}
	if !containsString(p.Devices, deviceID) {
		t.Errorf("plant Devices = %v, want %q listed", p.Devices, deviceID)
	}

	d := ext.Devices[0]
	if d.ID != deviceID {
		t.Errorf("device ID = %q, want %q", d.ID, deviceID)
	}
	if got, _ := d.Name.Get(); got != "VENT-01" {
		t.Errorf("device Name = %q, want %q", got, "VENT-01")
	}
	if got, _ := d.Kind.Get(); got != "Ventilator" {
		t.Errorf("device Kind = %q, want %q", got, "Ventilator")
	}
	if got, _ := d.PowerKW.Get(); got != 2.2 {
		t.Errorf("device PowerKW = %v, want 2.2", got)
	}
	if got, _ := d.Space.Get(); got != "1.01" {
		t.Errorf("device Space = %q, want %q", got, "1.01")
	}
	if got, _ := d.Plant.Get(); got != "LÜA 1" {
		t.Errorf("device Plant = %q, want %q", got, "LÜA 1")
	}
	if d.SystemID != "1uT4haSkXDAeHGoAloAnWS" {
		t.Errorf("device SystemID = %q", d.SystemID)
	}
	if d.Sources[0].Object != "IfcFan" {
		t.Errorf("device source object = %q, want IfcFan", d.Sources[0].Object)
	}

	if err := ext.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestExtractModelIFC2X3(t *testing.T) {
	const data = `ISO-10303-21;
HEADER;
FILE_SCHEMA(('IFC2X3'));
ENDSEC;
DATA;
#1=IFCSYSTEM('1aBcB2c8P5jQhV2d4tRnW1',$,'Lüftung Nord',$,$);
#2=IFCFLOWTERMINAL('2aBcB2c8P5jQhV2d4tRnW2',$,'ZL-01',$,'Zuluftauslass',$,$,$);
#3=IFCRELASSIGNSTOGROUP('3aBcB2c8P5jQhV2d4tRnW3',$,$,$,(#2),$,#1);
#4=IFCPROPERTYSET('4aBcB2c8P5jQhV2d4tRnW4',$,'Pset_FlowTerminal',$,(#5));
#5=IFCPROPERTYSINGLEVALUE('FlowRate',$,IFCVOLUMETRICFLOWRATEMEASURE(120.),$);
#6=IFCRELDEFINESBYPROPERTIES('5aBcB2c8P5jQhV2d4tRnW5',$,$,$,(#2),#4);
ENDSEC;
END-ISO-10303-21;
`
	ext, err := New(nil).Extract(context.Background(), modelDoc("bestand.ifc", data))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if ext.Metadata.Schema != "IFC2X3" {
		t.Errorf("Schema = %q, want IFC2X3", ext.Metadata.Schema)
	}
	if len(ext.Plants) != 1 || len(ext.Devices) != 1 {
		t.Fatalf("entity counts = %d plants, %d devices, want 1/1", len(ext.Plants), len(ext.Devices))
	}

	p := ext.Plants[0]
	if got, _ := p.Name.Get(); got != "Lüftung Nord" {
		t.Errorf("plant Name = %q, want %q", got, "Lüftung Nord")
	}
	if got, _ := p.Kind.Get(); got != "HLKS-System" {
		t.Errorf("plant Kind = %q, want HLKS-System", got)
	}

	d := ext.Devices[0]
	if got, _ := d.AirflowM3H.Get(); got != 120 {
		t.Errorf("device AirflowM3H = %v, want 120", got)
	}
	if got, _ := d.Plant.Get(); got != "Lüftung Nord" {
		t.Errorf("device Plant = %q, want %q", got, "Lüftung Nord")
	}
	if !containsString(p.Devices, d.ID) {
		t.Errorf("plant Devices = %v, want %q listed", p.Devices, d.ID)
	}
}

func TestExtractModelUnknownSchema(t *testing.T) {
	const data = `ISO-10303-21;
HEADER;
FILE_SCHEMA(('HAUSMODELL_V2'));
ENDSEC;
DATA;
#1=IFCSPACE('0aBcB2c8P5jQhV2d4tRnW1',$,'2.01',$,$,$,$,$,.ELEMENT.,.INTERNAL.,$);
ENDSEC;
END-ISO-10303-21;
`
	ext, err := New(nil).Extract(context.Background(), modelDoc("gebaeude.ifc", data))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if ext.Metadata.Schema != "IFC4" {
		t.Errorf("Schema = %q, want IFC4 fallback", ext.Metadata.Schema)
	}
	if !hasWarning(ext.Warnings, entity.WarnLowConfidence) {
		t.Error("missing unknown-schema warning")
	}
	if len(ext.Spaces) != 1 {
		t.Fatalf("len(Spaces) = %d, want 1", len(ext.Spaces))
	}
	if got, _ := ext.Spaces[0].Number.Get(); got != "2.01" {
		t.Errorf("space Number = %q, want 2.01", got)
	}
}

func TestExtractModelNamelessDevice(t *testing.T) {
	const data = `ISO-10303-21;
HEADER;
FILE_SCHEMA(('IFC4'));
ENDSEC;
DATA;
#1=IFCFAN('3nNkB2c8P5jQhV2d4tRnW1',$,$,$,$,$,$,$,$);
ENDSEC;
END-ISO-10303-21;
`
	ext, err := New(nil).Extract(context.Background(), modelDoc("geraete.ifc", data))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(ext.Devices) != 1 {
		t.Fatalf("len(Devices) = %d, want 1", len(ext.Devices))
	}
	d := ext.Devices[0]
	if !d.Incomplete {
		t.Error("nameless device not flagged incomplete")
	}
	if d.Name.IsSet() {
		t.Error("nameless device must keep Name unset")
	}
	if got, _ := d.Kind.Get(); got != "Fan" {
		t.Errorf("device Kind = %q, want class fallback Fan", got)
	}
	if !hasWarning(ext.Warnings, entity.WarnIncomplete) {
		t.Error("missing incomplete warning")
	}
	if err := ext.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestExtractModelSkipsMissingGlobalID(t *testing.T) {
	const data = `ISO-10303-21;
HEADER;
FILE_SCHEMA(('IFC4'));
ENDSEC;
DATA;
#1=IFCSPACE('',$,'1.01',$,$,$,$,$,.ELEMENT.,.INTERNAL.,$);
ENDSEC;
END-ISO-10303-21;
`
	ext, err := New(nil).Extract(context.Background(), modelDoc("gebaeude.ifc", data))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(ext.Spaces) != 0 {
		t.Errorf("len(Spaces) = %d, want 0", len(ext.Spaces))
	}
	if !hasWarning(ext.Warnings, entity.WarnSkipped) {
		t.Error("missing skipped warning")
	}
}

func TestExtractModelMalformed(t *testing.T) {
	doc := modelDoc("gebaeude.ifc", "ISO-10303-21;DATA;#1=IFCSPACE('kaputt;")
	_, err := New(nil).Extract(context.Background(), doc)
	if !errors.Is(err, entity.ErrMalformedDocument) {
		t.Errorf("Extract() error = %v, want ErrMalformedDocument", err)
	}
}

func TestExtractModelRejectsOtherFormats(t *testing.T) {
	doc := modelDoc("plan.ifc", "%PDF-1.4\n1 0 obj\n")
	_, err := New(nil).Extract(context.Background(), doc)
	if !errors.Is(err, entity.ErrUnsupportedFormat) {
		t.Errorf("Extract() error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestExtractModelCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Extract(ctx, modelDoc("gebaeude.ifc", modelIFC4))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Extract() error = %v, want context.Canceled", err)
	}
}

func TestModelFormats(t *testing.T) {
	got := New(nil).Formats()
	if len(got) != 1 || got[0] != format.IFC {
		t.Errorf("Formats() = %v, want [IFC]", got)
	}
}
