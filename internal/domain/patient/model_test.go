package patient

import "testing"

func TestValidateAgeBounds(t *testing.T) {
	for _, age := range []int64{0, 75, 150} {
		p := &Patient{PatientCode: "P", AgeInYears: &age}
		if err := p.Validate(); err != nil {
			t.Errorf("age %d rejected: %v", age, err)
		}
	}
	for _, age := range []int64{-1, 151} {
		p := &Patient{PatientCode: "P", AgeInYears: &age}
		if err := p.Validate(); err == nil {
			t.Errorf("age %d accepted", age)
		}
	}
}

func TestValidateDeathAfterBirth(t *testing.T) {
	birth, death := "1950-06-01", "2020-01-15"
	p := &Patient{PatientCode: "P", BirthDate: &birth, DeathDate: &death}
	if err := p.Validate(); err != nil {
		t.Fatalf("valid lifespan rejected: %v", err)
	}

	early := "1940-01-01"
	p.DeathDate = &early
	if err := p.Validate(); err == nil {
		t.Fatal("death before birth accepted")
	}
}

func TestBlobMap(t *testing.T) {
	blob := `{"diagnosisNotes":"relapsing-remitting","cohort":"MS-2024"}`
	p := &Patient{PatientCode: "P", Blob: &blob}

	m, err := p.BlobMap()
	if err != nil {
		t.Fatalf("BlobMap() error: %v", err)
	}
	if m["cohort"] != "MS-2024" {
		t.Errorf("cohort = %v", m["cohort"])
	}

	p.Blob = nil
	m, err = p.BlobMap()
	if err != nil || len(m) != 0 {
		t.Errorf("nil blob: map %v, err %v", m, err)
	}
}

func TestPatchApply(t *testing.T) {
	sex := "F"
	p := &Patient{PatientCode: "P", SexCode: &sex}

	age := int64(28)
	src := "IMPORT"
	Patch{AgeInYears: &age, SourceSystem: &src}.Apply(p)

	if p.AgeInYears == nil || *p.AgeInYears != 28 {
		t.Error("age not applied")
	}
	if p.SourceSystem != "IMPORT" {
		t.Error("source system not applied")
	}
	if p.SexCode == nil || *p.SexCode != "F" {
		t.Error("unset patch field must not change the row")
	}
}

func TestPatchEmpty(t *testing.T) {
	if !(Patch{}).Empty() {
		t.Error("zero patch should be empty")
	}
	age := int64(1)
	if (Patch{AgeInYears: &age}).Empty() {
		t.Error("patch with a field should not be empty")
	}
}
