package service

import (
	"github.com/noah-isme/sitereport-api/internal/models"
)

const (
	testOrg      = "org-1"
	otherOrg     = "org-2"
	testProject  = "proj-1"
	ownerID      = "user-owner"
	viewerID     = "user-viewer"
	foremanID    = "user-foreman"
	accountantID = "user-accountant"
	outsiderID   = "user-outsider"
)

func testMembers() *memberStub {
	return newMemberStub().
		add(testOrg, ownerID, models.RoleOwner).
		add(testOrg, viewerID, models.RoleViewer).
		add(testOrg, foremanID, models.RoleSiteForeman).
		add(testOrg, accountantID, models.RoleAccountant).
		add(otherOrg, outsiderID, models.RoleOwner)
}

func emptySite() *siteStub {
	return &siteStub{
		projects: []models.Project{{ID: testProject, OrganizationID: testOrg, Name: "Harbour Tower", Code: strPtr("HT-01"), Status: "active"}},
	}
}

// populatedSite holds one diary with a labour, plant and material line each, plus
// rows of a foreign organization that a faulty query could leak.
func populatedSite() *siteStub {
	site := emptySite()
	site.diaries = []models.DailyDiary{
		{ID: "diary-1", OrganizationID: testOrg, ProjectID: testProject, DiaryDate: day("2024-03-04"), Weather: strPtr("fine"), Status: "submitted"},
		{ID: "diary-foreign", OrganizationID: otherOrg, ProjectID: testProject, DiaryDate: day("2024-03-04"), Status: "submitted"},
	}
	site.inspections = []models.Inspection{
		{ID: "insp-1", OrganizationID: testOrg, ProjectID: testProject, TemplateName: "Slab pour", Status: "passed"},
		{ID: "insp-2", OrganizationID: testOrg, ProjectID: testProject, TemplateName: "Formwork", Status: "failed"},
	}
	site.ncrs = []models.NCR{
		{ID: "ncr-1", OrganizationID: testOrg, ProjectID: testProject, Number: "NCR-001", Title: "Cover depth", Severity: "major", Status: "open", RaisedAt: day("2024-03-04")},
		{ID: "ncr-2", OrganizationID: testOrg, ProjectID: testProject, Number: "NCR-002", Title: "Honeycombing", Severity: "minor", Status: "closed", RaisedAt: day("2024-03-05")},
	}
	site.labour = []models.LabourEntry{
		{ID: "lab-1", OrganizationID: testOrg, ProjectID: testProject, DiaryID: "diary-1", DiaryDate: day("2024-03-04"), WorkerName: "A. Builder", Hours: 8, HourlyRate: 50, TotalCost: 400},
		{ID: "lab-foreign", OrganizationID: otherOrg, ProjectID: testProject, DiaryID: "diary-1", DiaryDate: day("2024-03-04"), WorkerName: "Leak", Hours: 1, HourlyRate: 1000, TotalCost: 1000},
	}
	site.plant = []models.PlantEntry{
		{ID: "plant-1", OrganizationID: testOrg, ProjectID: testProject, DiaryID: "diary-1", DiaryDate: day("2024-03-04"), Equipment: "Excavator", Hours: 4, HourlyRate: 120, FuelCost: 60, TotalCost: 540},
	}
	site.materials = []models.MaterialEntry{
		{ID: "mat-1", OrganizationID: testOrg, ProjectID: testProject, DiaryID: "diary-1", DiaryDate: day("2024-03-04"), Material: "Concrete", Quantity: 10, Unit: strPtr("m3"), UnitCost: 180, TotalCost: 1800},
	}
	return site
}

func projectSummaryParams() models.ReportParameters {
	return models.NewReportParameters(&models.ProjectSummaryParams{ProjectID: testProject})
}

func financialParams() models.ReportParameters {
	return models.NewReportParameters(&models.FinancialSummaryParams{ProjectID: testProject, DateRange: dateRange("2024-03-01", "2024-03-31")})
}

func diaryExportParams() models.ReportParameters {
	return models.NewReportParameters(&models.DiaryExportParams{ProjectID: testProject, DateRange: dateRange("2024-03-01", "2024-03-31")})
}
